// Copyright (C) 2022 K2 Cyber Security Inc.

// Command dxgiprep runs offset discovery for the dxgi hooks and inspects the
// shared record injected processes read.
package main

func main() {
	execute()
}
