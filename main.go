package main

import "github.com/maxvaer/apihunter/cmd"

func main() {
	cmd.Execute()
}
