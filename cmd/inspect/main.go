// Command inspect dumps the state of a relay data directory: the
// conversation document and the session index. Ops tooling; read-only.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/session"
	"chatrelay/pkg/store"
)

func main() {
	var dataDir string
	flag.StringVar(&dataDir, "data", "./data", "data directory to inspect")
	flag.Parse()
	logger.Init()

	st := store.Open(filepath.Join(dataDir, "messages.json"), store.RetryPolicy{Attempts: 1, Delay: time.Millisecond})
	users, err := st.Users()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read document: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("document: %s\n", st.Path())
	fmt.Printf("users: %d\n", len(users))
	for _, uid := range users {
		convs, err := st.ListConversations(uid)
		if err != nil {
			fmt.Fprintf(os.Stderr, "user %s: %v\n", uid, err)
			continue
		}
		fmt.Printf("\nuser %s (%d conversations)\n", uid, len(convs))
		for _, c := range convs {
			last := "-"
			if c.LastMessage != nil {
				last = c.LastMessage.Format(time.RFC3339)
			}
			fmt.Printf("  %s  %-30q  messages=%d  last=%s\n", c.ID, c.Title, c.MessageCount, last)
		}
	}

	indexPath := filepath.Join(dataDir, "index")
	if _, err := os.Stat(indexPath); err != nil {
		return
	}
	ix, err := session.Open(indexPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open session index: %v\n", err)
		os.Exit(1)
	}
	defer ix.Close()

	fmt.Printf("\nsession index: %s\n", indexPath)
	for _, uid := range users {
		recs, err := ix.ForUser(uid)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sessions for %s: %v\n", uid, err)
			continue
		}
		for _, r := range recs {
			fmt.Printf("  %s  user=%s  created=%s  last_seen=%s\n",
				r.SessionID, r.UserID,
				r.CreatedAt.Format(time.RFC3339), r.LastSeen.Format(time.RFC3339))
		}
	}
}
