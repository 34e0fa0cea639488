package domain

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// NodeKind identifies the behavior of a node in a flow.
type NodeKind string

const (
	// KindBegin greets the user and seeds the initial variables.
	KindBegin NodeKind = "begin"
	// KindInterface is the pause point where the engine waits for the user.
	KindInterface NodeKind = "interface"
	// KindGenerate renders a prompt and calls a model provider.
	KindGenerate NodeKind = "generate"
	// KindCategorize picks a labeled branch.
	KindCategorize NodeKind = "categorize"
	// KindRetrieval queries one or more knowledge bases.
	KindRetrieval NodeKind = "retrieval"
)

// NodeKinds lists every supported kind, in declaration order.
var NodeKinds = []NodeKind{KindBegin, KindInterface, KindGenerate, KindCategorize, KindRetrieval}

// Valid reports whether k is one of the supported kinds.
func (k NodeKind) Valid() bool {
	for _, known := range NodeKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Node is a single step of a flow.
// Form holds the configuration type matching Kind (see DecodeForm).
// A nil Form behaves as the zero configuration.
type Node struct {
	ID   string
	Kind NodeKind
	Name string
	Form Form
}

// DisplayName returns the node name, falling back to its id.
func (n Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// Form is the kind-specific configuration of a node.
// The set of implementations is closed: one per NodeKind.
type Form interface {
	Kind() NodeKind
	isForm()
}

// VariableDecl declares a flow variable and its initial value.
type VariableDecl struct {
	Key   string `json:"key" yaml:"key" mapstructure:"key"`
	Value any    `json:"value,omitempty" yaml:"value,omitempty" mapstructure:"value"`
}

// BeginForm configures the entry node.
type BeginForm struct {
	Greeting  string         `json:"greeting,omitempty" mapstructure:"greeting"`
	Variables []VariableDecl `json:"variables,omitempty" mapstructure:"variables"`
}

// InterfaceForm configures a pause point.
type InterfaceForm struct {
	Template    string `json:"template,omitempty" mapstructure:"template"`
	Placeholder string `json:"placeholder,omitempty" mapstructure:"placeholder"`
}

// GenerateForm configures a model call.
//
// Prompt and SystemPrompt see the flow variables plus context (latest
// retrieval output), question (latest user input), components and input.
// Those derived names take precedence over variables of the same name.
type GenerateForm struct {
	Model        string   `json:"model,omitempty" mapstructure:"model"`
	Prompt       string   `json:"prompt" mapstructure:"prompt"`
	SystemPrompt string   `json:"systemPrompt,omitempty" mapstructure:"systemPrompt"`
	Temperature  *float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	MaxTokens    int      `json:"maxTokens,omitempty" mapstructure:"maxTokens"`
}

// Category is one branch of a categorize node.
// When is an optional boolean expression evaluated against the flow variables.
type Category struct {
	Label       string   `json:"label" mapstructure:"label"`
	Description string   `json:"description,omitempty" mapstructure:"description"`
	Keywords    []string `json:"keywords,omitempty" mapstructure:"keywords"`
	When        string   `json:"when,omitempty" mapstructure:"when"`
}

// CategorizeForm configures a branching node.
type CategorizeForm struct {
	Categories []Category `json:"categories" mapstructure:"categories"`
	Default    string     `json:"default" mapstructure:"default"`
	Model      string     `json:"model,omitempty" mapstructure:"model"`
	Input      string     `json:"input,omitempty" mapstructure:"input"`
}

// Labels returns the declared category labels in order.
func (f CategorizeForm) Labels() []string {
	labels := make([]string, 0, len(f.Categories))
	for _, c := range f.Categories {
		labels = append(labels, c.Label)
	}
	return labels
}

// Output formats supported by retrieval nodes.
const (
	OutputPlain     = "plain"
	OutputCitations = "citations"
	OutputJSON      = "json"
)

// Retrieval defaults applied when the form leaves them unset.
const (
	DefaultRetrievalLimit     = 5
	DefaultRetrievalThreshold = 0.2
)

// RetrievalForm configures a knowledge-base lookup.
type RetrievalForm struct {
	KnowledgeIDs []string `json:"knowledgeIds" mapstructure:"knowledgeIds"`
	Inputs       []string `json:"inputs,omitempty" mapstructure:"inputs"`
	Limit        int      `json:"limit,omitempty" mapstructure:"limit"`
	Threshold    float64  `json:"threshold,omitempty" mapstructure:"threshold"`
	OutputFormat string   `json:"outputFormat,omitempty" mapstructure:"outputFormat"`
}

// WithDefaults returns a copy of f with zero values replaced by defaults.
func (f RetrievalForm) WithDefaults() RetrievalForm {
	if f.Limit <= 0 {
		f.Limit = DefaultRetrievalLimit
	}
	if f.Threshold <= 0 {
		f.Threshold = DefaultRetrievalThreshold
	}
	if f.OutputFormat == "" {
		f.OutputFormat = OutputPlain
	}
	return f
}

func (BeginForm) Kind() NodeKind      { return KindBegin }
func (InterfaceForm) Kind() NodeKind  { return KindInterface }
func (GenerateForm) Kind() NodeKind   { return KindGenerate }
func (CategorizeForm) Kind() NodeKind { return KindCategorize }
func (RetrievalForm) Kind() NodeKind  { return KindRetrieval }

func (BeginForm) isForm()      {}
func (InterfaceForm) isForm()  {}
func (GenerateForm) isForm()   {}
func (CategorizeForm) isForm() {}
func (RetrievalForm) isForm()  {}

// DecodeForm builds the typed form for kind from a loosely typed document.
// Numbers given as strings ("0.7") are accepted.
func DecodeForm(kind NodeKind, raw map[string]any) (Form, error) {
	var target Form
	switch kind {
	case KindBegin:
		target = &BeginForm{}
	case KindInterface:
		target = &InterfaceForm{}
	case KindGenerate:
		target = &GenerateForm{}
	case KindCategorize:
		target = &CategorizeForm{}
	case KindRetrieval:
		target = &RetrievalForm{}
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown node kind %q", kind)}
	}

	if raw != nil {
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           target,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(raw); err != nil {
			return nil, fmt.Errorf("decode %s form: %w", kind, err)
		}
	}

	switch f := target.(type) {
	case *BeginForm:
		return *f, nil
	case *InterfaceForm:
		return *f, nil
	case *GenerateForm:
		return *f, nil
	case *CategorizeForm:
		return *f, nil
	case *RetrievalForm:
		return *f, nil
	}
	return nil, &InternalError{Cause: fmt.Errorf("unreachable form type %T", target)}
}

// nodeDocument is the wire shape of a node.
type nodeDocument struct {
	ID   string         `json:"id"`
	Kind NodeKind       `json:"kind"`
	Name string         `json:"name,omitempty"`
	Form map[string]any `json:"form,omitempty"`
}

// UnmarshalJSON decodes the wire shape and resolves the typed form.
func (n *Node) UnmarshalJSON(data []byte) error {
	var doc nodeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	return n.fromDocument(doc)
}

// MarshalJSON encodes the node back into its wire shape.
func (n Node) MarshalJSON() ([]byte, error) {
	doc := nodeDocument{ID: n.ID, Kind: n.Kind, Name: n.Name}
	if n.Form != nil {
		raw, err := json.Marshal(n.Form)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &doc.Form); err != nil {
			return nil, err
		}
	}
	return json.Marshal(doc)
}

func (n *Node) fromDocument(doc nodeDocument) error {
	if !doc.Kind.Valid() {
		return &ConfigurationError{NodeID: doc.ID, Reason: fmt.Sprintf("unknown node kind %q", doc.Kind)}
	}
	form, err := DecodeForm(doc.Kind, doc.Form)
	if err != nil {
		return &ConfigurationError{NodeID: doc.ID, Reason: err.Error()}
	}
	*n = Node{ID: doc.ID, Kind: doc.Kind, Name: doc.Name, Form: form}
	return nil
}
