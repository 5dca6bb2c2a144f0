package main

import "github.com/snowflake-kv/sfdash/cmd"

func main() {
	cmd.Execute()
}
