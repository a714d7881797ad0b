package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/database"
	"github.com/olekukonko/tablewriter"
)

type roomRow struct {
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}

type messageRow struct {
	ID        string `json:"id"`
	Room      string `json:"room"`
	User      string `json:"user"`
	Message   string `json:"message"`
	CreatedAt int64  `json:"created_at"`
}

func main() {
	dbPath := flag.String("db", database.DefaultPath, "Path to badger DB")
	prefix := flag.String("prefix", "room:", "Prefix to scan (room: or msg:)")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Type", "Timestamp", "Room", "User", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	rooms, messages := 0, 0

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			rawKey := string(item.Key())

			err := item.Value(func(v []byte) error {
				switch {
				case strings.HasPrefix(rawKey, "room:"):
					var row roomRow
					if err := json.Unmarshal(v, &row); err != nil {
						fmt.Printf("Error unmarshaling key %s: %v\n", rawKey, err)
						return nil
					}
					rooms++
					table.Append([]string{
						rawKey,
						"ROOM",
						time.Unix(0, row.CreatedAt).Format("15:04:05"),
						row.Name,
						"",
						"",
					})
				case strings.HasPrefix(rawKey, "msg:"):
					var row messageRow
					if err := json.Unmarshal(v, &row); err != nil {
						fmt.Printf("Error unmarshaling key %s: %v\n", rawKey, err)
						return nil
					}
					messages++
					// Short hash is already 13 chars, messages get truncated for readability
					detail := row.Message
					if len(detail) > 60 {
						detail = detail[:60] + "..."
					}
					table.Append([]string{
						rawKey,
						"MESSAGE",
						time.Unix(0, row.CreatedAt).Format("15:04:05"),
						row.Room,
						row.User,
						detail,
					})
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		log.Fatal(err)
	}

	table.Render()
	color.Cyan.Printf("\n%d room(s), %d message(s) under prefix %q\n", rooms, messages, *prefix)
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true).
		WithValueLogFileSize(10 * 1024 * 1024)

	db, err := badger.Open(opts)
	if err != nil {
		// A crash can leave the value log in need of truncation, which
		// read-only mode refuses to do. Open writable once, then retry.
		if strings.Contains(err.Error(), "Log truncate required") {
			repairOpts := badger.DefaultOptions(path).
				WithLogger(nil).WithBypassLockGuard(true)

			db, err = badger.Open(repairOpts)
			if err != nil {
				return nil, fmt.Errorf("repair failed: %w", err)
			}

			db.Close()
			return badger.Open(opts)
		}
		return nil, err
	}
	return db, nil
}
