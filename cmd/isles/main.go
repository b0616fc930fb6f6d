// Command isles runs a manager process from a yaml configuration file.
package main

func main() {
	Execute()
}
