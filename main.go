package main

import "github.com/ValentinKolb/memjob/cmd"

func main() {
	cmd.Execute()
}
