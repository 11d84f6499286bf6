// Command searchsync is the operator CLI for the business search index:
// index migration, sync job submission, queue control and ad-hoc searches.
package main

import (
	"os"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/cmd/searchsync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
