package main

var AppVersion string

func main() {
	Execute()
}
