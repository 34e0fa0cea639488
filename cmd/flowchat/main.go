// Command flowchat serves and runs chat agent flows.
package main

func main() {
	Execute()
}
