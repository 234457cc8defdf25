package main

import "github.com/Acceso-dev/Acceso-x402/internal/cmd"

func main() {
	cmd.Execute()
}
