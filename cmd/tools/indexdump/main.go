// indexdump is an offline inspection tool for a proofmesh graph database:
// it prints the kNodes and kRelns live at a chosen major, for debugging
// index state without running the server.
//
// Usage:
//
//	indexdump -db data/proofmesh.db -repo test.moo.bar -major 2
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	dbPath := flag.String("db", "data/proofmesh.db", "Path to the graph database")
	repo := flag.String("repo", "", "Repopath to dump (required)")
	major := flag.String("major", "WIP", "Major version to view (decimal or WIP)")
	relns := flag.Bool("relns", false, "Dump kRelns instead of kNodes")
	flag.Parse()

	if *repo == "" {
		fmt.Fprintln(os.Stderr, "indexdump: -repo is required")
		os.Exit(2)
	}
	if err := run(*dbPath, *repo, *major, *relns); err != nil {
		fmt.Fprintf(os.Stderr, "indexdump: %v\n", err)
		os.Exit(1)
	}
}

func run(dbPath, repo, major string, relns bool) error {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", dbPath, err)
	}
	defer db.Close()

	liveCond := "major = 'WIP'"
	var args []interface{}
	args = append(args, repo)
	if major != "WIP" {
		liveCond = "major_num <= ? AND cut_num > ?"
		args = append(args, major, major)
	}

	if relns {
		rows, err := db.Query(
			`SELECT reln_type, tail_libpath, head_libpath, major, COALESCE(cut, '')
			 FROM krelns WHERE repopath = ? AND `+liveCond+`
			 ORDER BY reln_type, tail_libpath, head_libpath`, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var relnType, tail, head, maj, cut string
			if err := rows.Scan(&relnType, &tail, &head, &maj, &cut); err != nil {
				return err
			}
			line := fmt.Sprintf("%-10s %s -> %s @%s", relnType, tail, head, maj)
			if cut != "" {
				line += " cut=" + cut
			}
			fmt.Println(line)
		}
		return rows.Err()
	}

	rows, err := db.Query(
		`SELECT label, libpath, major, COALESCE(cut, ''), origin
		 FROM knodes WHERE repopath = ? AND `+liveCond+`
		 ORDER BY label, libpath`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var label, libpath, maj, cut, origin string
		if err := rows.Scan(&label, &libpath, &maj, &cut, &origin); err != nil {
			return err
		}
		line := fmt.Sprintf("%-12s %s @%s", label, libpath, maj)
		if cut != "" {
			line += " cut=" + cut
		}
		if origin != "" {
			line += " origin=" + origin
		}
		fmt.Println(line)
	}
	return rows.Err()
}
