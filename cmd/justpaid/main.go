// Package main is the justpaid command: a CLI over the JustPaid usage-billing
// API, a Kafka usage relay and a local sandbox server.
package main

func main() {
	Execute()
}
