// Command siesctl is the manual-testing REPL: it acquires a session from
// an in-process pool.Pool, submits code with "exec", answers input()
// prompts with "input", and streams Output/Input/Result as they arrive.
// Grounded on test/pkg/repl's bufio-driven read-parse-dispatch loop with
// command history, generalized from MCP tool invocation to execute/input.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/casepot/sies/internal/config"
	"github.com/casepot/sies/internal/ids"
	"github.com/casepot/sies/internal/launcher"
	"github.com/casepot/sies/internal/logger"
	"github.com/casepot/sies/internal/pool"
	"github.com/casepot/sies/internal/protocol"
	"github.com/casepot/sies/internal/session"
)

func main() {
	configDir := flag.String("config-dir", "", "directory containing sies.jsonc")
	flag.Parse()

	if err := logger.Init(envOr("SIES_LOG_DIR", "/tmp/sies/logs"), false); err != nil {
		fmt.Fprintln(os.Stderr, "siesctl: init logger:", err)
		os.Exit(1)
	}
	defer logger.Close()

	path, err := config.FindConfigPath(*configDir)
	var cfg *config.Config
	if err != nil {
		cfg = &config.Config{}
	} else if cfg, err = config.Load(path); err != nil {
		fmt.Fprintln(os.Stderr, "siesctl: load config:", err)
		os.Exit(1)
	}

	enc, err := cfg.Encoding()
	if err != nil {
		fmt.Fprintln(os.Stderr, "siesctl:", err)
		os.Exit(1)
	}

	p := pool.New(cfg.PoolConfig(&launcher.ProcessLauncher{}, launcher.Config{Command: cfg.Server.WorkerCommand}, enc, nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Close()

	r := newREPL(p)
	if err := r.run(); err != nil {
		fmt.Fprintln(os.Stderr, "siesctl:", err)
		os.Exit(1)
	}
}

// repl is the interactive session driver: one acquired session at a time.
// exec's stream is drained by a background goroutine so the prompt stays
// responsive while an execution is in flight and waiting on input().
type repl struct {
	pool    *pool.Pool
	reader  *bufio.Reader
	history []string

	mu        sync.Mutex
	current   *session.Session
	pendingIn string // most recent unanswered Input message's ID, if any
}

func newREPL(p *pool.Pool) *repl {
	return &repl{pool: p, reader: bufio.NewReader(os.Stdin)}
}

func (r *repl) run() error {
	fmt.Println("sies interactive control — type 'help' for commands, 'exit' to quit")
	for {
		fmt.Print("> ")
		line, err := r.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nbye")
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.history = append(r.history, line)

		if err := r.dispatch(line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func (r *repl) dispatch(line string) error {
	fields := strings.SplitN(line, " ", 2)
	cmd := fields[0]
	var rest string
	if len(fields) > 1 {
		rest = fields[1]
	}

	switch cmd {
	case "help", "?":
		r.cmdHelp()
		return nil
	case "new":
		return r.cmdNew()
	case "exec":
		return r.cmdExec(rest)
	case "input":
		return r.cmdInput(rest)
	case "history":
		r.cmdHistory()
		return nil
	case "exit", "quit":
		os.Exit(0)
		return nil
	default:
		return fmt.Errorf("unknown command %q (type 'help')", cmd)
	}
}

func (r *repl) cmdHelp() {
	fmt.Println("commands:")
	fmt.Println("  new                 acquire a fresh session")
	fmt.Println("  exec <code>         submit code to the current session")
	fmt.Println("  input <text>        answer the most recent input() prompt")
	fmt.Println("  history             show command history")
	fmt.Println("  exit                quit")
}

func (r *repl) cmdNew() error {
	s, err := r.pool.Acquire(context.Background(), time.Now().Add(10*time.Second))
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	r.mu.Lock()
	prev := r.current
	r.current = s
	r.mu.Unlock()
	if prev != nil {
		r.pool.Release(prev)
	}
	fmt.Printf("acquired session %s\n", s.ID())
	return nil
}

// cmdExec submits code and returns immediately; a background goroutine
// drains the stream and prints Output/Input/Result as they arrive, so the
// prompt stays available for an "input" command answering a mid-execution
// input() request.
func (r *repl) cmdExec(code string) error {
	r.mu.Lock()
	s := r.current
	r.mu.Unlock()
	if s == nil {
		if err := r.cmdNew(); err != nil {
			return err
		}
		r.mu.Lock()
		s = r.current
		r.mu.Unlock()
	}
	if code == "" {
		return fmt.Errorf("usage: exec <code>")
	}

	msg := &protocol.Execute{
		Envelope: protocol.Envelope{Type: protocol.TypeExecute, ID: ids.New(), Timestamp: time.Now()},
		Code:     code,
	}
	stream, err := s.Execute(context.Background(), msg)
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}

	go func() {
		for m := range stream {
			switch v := m.(type) {
			case *protocol.Output:
				fmt.Printf("[%s] %s", v.Stream, string(v.Data))
			case *protocol.Input:
				r.mu.Lock()
				r.pendingIn = v.ID
				r.mu.Unlock()
				fmt.Printf("\n[input requested] %s\n> ", v.Prompt)
			case *protocol.Result:
				fmt.Printf("\n=> %s (%s)\n> ", v.Repr, v.ExecutionTime)
			case *protocol.Error:
				fmt.Printf("\n!! %s: %s\n> ", v.ExceptionType, v.Message)
			}
		}
	}()
	return nil
}

func (r *repl) cmdInput(text string) error {
	r.mu.Lock()
	s := r.current
	inputID := r.pendingIn
	r.mu.Unlock()
	if s == nil || inputID == "" {
		return fmt.Errorf("no pending input() request")
	}
	if err := s.InputResponse(inputID, text); err != nil {
		return fmt.Errorf("input response: %w", err)
	}
	r.mu.Lock()
	r.pendingIn = ""
	r.mu.Unlock()
	return nil
}

func (r *repl) cmdHistory() {
	for i, cmd := range r.history {
		fmt.Printf("%3d  %s\n", i+1, cmd)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
