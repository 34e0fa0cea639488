/*
Package dsl builds flows in Go instead of JSON or YAML documents.

The fluent builder is handy for tests, generated agents and programs that
assemble flows at run time. Flow validates the graph the same way the file
loader does.

	b := dsl.New("support")
	b.Begin("begin", "Hi {{name}}, how can I help?").Var("name", "guest").To("ask")
	b.Interface("ask").To("route")
	b.Categorize("route").
		Category("billing", "invoice", "refund").Branch("billing", "billing").
		Category("other").Branch("other", "answer").
		Default("other")
	b.Retrieval("billing", "billing-kb").To("answer")
	b.Generate("answer", "Answer the question: {{question}}\n\n{{context}}").To("ask")

	loader, err := b.Loader()
*/
package dsl
