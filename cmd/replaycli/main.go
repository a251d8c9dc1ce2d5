// Command replaycli drives ReplayVerifier over two audit logs from the
// command line and reports the documented exit codes: 0 on a deterministic
// match, 8 on a replay mismatch, 1 on a usage or I/O error.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kestrelfutures/fcore/internal/audit"
	"github.com/kestrelfutures/fcore/internal/replay"
)

const (
	exitMatch    = 0
	exitUsage    = 1
	exitMismatch = 8
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	var excludeFlag string
	flag.StringVar(&excludeFlag, "exclude", "ts,received_at", "comma-separated field names to strip before hashing")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-exclude fields] <recorded.jsonl> <replayed.jsonl>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(exitUsage)
	}
	recordedPath, replayedPath := flag.Arg(0), flag.Arg(1)

	recorded, err := audit.ReadAll(recordedPath)
	if err != nil {
		log.Error().Err(err).Str("path", recordedPath).Msg("failed to read recorded audit log")
		os.Exit(exitUsage)
	}
	replayed, err := audit.ReadAll(replayedPath)
	if err != nil {
		log.Error().Err(err).Str("path", replayedPath).Msg("failed to read replayed audit log")
		os.Exit(exitUsage)
	}

	exclude := strings.Split(excludeFlag, ",")
	for i := range exclude {
		exclude[i] = strings.TrimSpace(exclude[i])
	}

	verifier := replay.New(exclude)
	result, err := verifier.Compare(recorded, replayed)
	if err != nil {
		log.Error().Err(err).Msg("replay comparison failed")
		os.Exit(exitUsage)
	}

	if result.Match {
		fmt.Printf("MATCH recorded_hash=%s replayed_hash=%s\n", result.RecordedHash, result.ReplayedHash)
		os.Exit(exitMatch)
	}

	fmt.Printf("MISMATCH recorded_hash=%s replayed_hash=%s\n", result.RecordedHash, result.ReplayedHash)
	if result.Diff != nil {
		fmt.Printf("first divergence at index %d\n", result.Diff.Index)
		if result.Diff.RecordedJSON != "" {
			fmt.Printf("  recorded: %s\n", result.Diff.RecordedJSON)
		} else {
			fmt.Println("  recorded: <end of stream>")
		}
		if result.Diff.ReplayedJSON != "" {
			fmt.Printf("  replayed: %s\n", result.Diff.ReplayedJSON)
		} else {
			fmt.Println("  replayed: <end of stream>")
		}
	}
	os.Exit(exitMismatch)
}
