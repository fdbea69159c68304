package main

import (
	"fmt"
	"log"

	"oasis/code"
)

func main() {
	c, err := code.Generate(nil)
	if err != nil {
		log.Fatalf("Failed to generate room code: %v", err)
	}

	fmt.Printf("CODE: %s\n", c)
	fmt.Printf("HINT: %s\n", c.Hint())
}
