package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"syscall"

	"github.com/stemsi/gameverify-backend/internal/config"
	"github.com/stemsi/gameverify-backend/internal/model"
	"github.com/stemsi/gameverify-backend/internal/service"
	"golang.org/x/term"
)

// sign-submission computes the signature a trusted client would send with a
// submission. Useful when reproducing a flagged session by hand.
func main() {
	var answersPath string
	var prompt bool
	flag.StringVar(&answersPath, "answers", "", "Path to a JSON array of answers (default: stdin)")
	flag.BoolVar(&prompt, "prompt", false, "Read the signing secret from the terminal instead of SIGNING_SECRET")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println("Usage: sign-submission [flags] <session_id>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	sessionID := flag.Arg(0)

	// ─── Load Secret ───────────────────────────────────────────────────
	secret := config.Load().SigningSecret
	if prompt {
		fmt.Fprint(os.Stderr, "Enter Signing Secret: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error reading secret")
			os.Exit(1)
		}
		secret = string(raw)
	}

	signer, err := service.NewSigner(secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ─── Read Answers ──────────────────────────────────────────────────
	in := os.Stdin
	if answersPath != "" {
		f, err := os.Open(answersPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	var answers []model.AnswerSubmission
	if err := json.NewDecoder(in).Decode(&answers); err != nil {
		fmt.Fprintf(os.Stderr, "Error: answers must be a JSON array: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(signer.Sign(sessionID, answers))
}
