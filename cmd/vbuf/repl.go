package main

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/tidwall/sjson"
	"github.com/zeebo/blake3"
	"golang.org/x/term"

	"github.com/dshills/vbuf/internal/engine/vbuf"
	"github.com/dshills/vbuf/internal/logging"
)

// errUnknownCursor is returned for cursor ids that were never issued or
// have been closed.
var errUnknownCursor = errors.New("unknown cursor")

// REPL is the interactive command loop.
type REPL struct {
	buf     *vbuf.Buffer
	out     io.Writer
	logger  *logging.Logger
	cursors map[int]*vbuf.Cursor
	nextID  int
	liner   *liner.State
}

// NewREPL creates a command loop over buf writing results to out.
func NewREPL(buf *vbuf.Buffer, out io.Writer, logger *logging.Logger) *REPL {
	return &REPL{
		buf:     buf,
		out:     out,
		logger:  logger.WithComponent("repl"),
		cursors: make(map[int]*vbuf.Cursor),
		nextID:  1,
	}
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".vbuf_history")
}

// Run starts the REPL loop. When stdin is not a terminal the commands are
// read as a script instead.
func (r *REPL) Run() error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return r.RunScript(os.Stdin)
	}
	return r.runInteractive()
}

// RunScript executes one command per line from in without prompting.
// Failing commands are reported and execution continues.
func (r *REPL) RunScript(in io.Reader) error {
	defer r.closeCursors()

	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		quit, err := r.Execute(line)
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading script: %w", err)
	}
	return nil
}

func (r *REPL) runInteractive() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()
	defer r.closeCursors()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Fprintf(r.out, "vbuf %s - buffer %s (%d bytes)\n", version, r.buf.ID(), r.buf.Len())
	fmt.Fprintln(r.out, "Type 'help' for available commands.")
	fmt.Fprintln(r.out)

	for {
		line, err := r.liner.Prompt("vbuf> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out, "\nBye!")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		quit, err := r.Execute(line)
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if quit {
			fmt.Fprintln(r.out, "Bye!")
			break
		}
	}

	r.saveHistory()
	return nil
}

// saveHistory persists command history to disk.
func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

var commands = []string{
	"read", "insert", "delete", "len", "cat",
	"cursor", "next", "prev", "peek", "seek", "pos", "close",
	"stats", "hash", "save", "load",
	"help", "exit", "quit", "q",
}

// completer provides tab completion for commands.
func (r *REPL) completer(line string) []string {
	var completions []string
	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}
	return completions
}

// Execute runs one command line. It reports true when the shell should exit.
func (r *REPL) Execute(line string) (bool, error) {
	cmdFields, rest := cutFields(line, 1)
	if len(cmdFields) == 0 {
		return false, nil
	}
	cmd := strings.ToLower(cmdFields[0])
	args := strings.Fields(rest)

	switch cmd {
	case "exit", "quit", "q":
		return true, nil
	case "help", "?":
		r.printHelp()
		return false, nil
	case "read":
		return false, r.cmdRead(args)
	case "insert", "ins":
		return false, r.cmdInsert(rest)
	case "delete", "del":
		return false, r.cmdDelete(args)
	case "len":
		fmt.Fprintln(r.out, r.buf.Len())
		return false, nil
	case "cat":
		return false, r.cmdCat()
	case "cursor":
		return false, r.cmdCursor(args)
	case "next":
		return false, r.cmdStep(args, (*vbuf.Cursor).Next)
	case "prev":
		return false, r.cmdStep(args, (*vbuf.Cursor).Prev)
	case "peek":
		return false, r.cmdPeek(args)
	case "seek":
		return false, r.cmdSeek(args)
	case "pos":
		return false, r.cmdPos(args)
	case "close":
		return false, r.cmdClose(args)
	case "stats":
		if len(args) == 1 && args[0] == "json" {
			return false, r.cmdStatsJSON()
		}
		r.cmdStats()
		return false, nil
	case "hash":
		return false, r.cmdHash()
	case "save":
		return false, r.cmdSave(args)
	case "load":
		return false, r.cmdLoad(args)
	default:
		return false, fmt.Errorf("unknown command %q (type 'help' for commands)", cmd)
	}
}

func (r *REPL) printHelp() {
	fmt.Fprintln(r.out, "Commands:")
	fmt.Fprintln(r.out, "  read <offset> <n>        Print n bytes starting at offset")
	fmt.Fprintln(r.out, "  insert <offset> <text>   Insert text (Go-quoted strings allowed)")
	fmt.Fprintln(r.out, "  delete <start> <end>     Delete bytes in [start, end)")
	fmt.Fprintln(r.out, "  len                      Print the buffer length")
	fmt.Fprintln(r.out, "  cat                      Print the whole buffer")
	fmt.Fprintln(r.out, "  cursor <pos>             Create a cursor, printing its id")
	fmt.Fprintln(r.out, "  next <id> [n]            Step a cursor forward n bytes (default 1)")
	fmt.Fprintln(r.out, "  prev <id> [n]            Step a cursor backward n bytes (default 1)")
	fmt.Fprintln(r.out, "  peek <id>                Show the byte under a cursor")
	fmt.Fprintln(r.out, "  seek <id> <pos>          Move a cursor")
	fmt.Fprintln(r.out, "  pos <id>                 Show a cursor's position and version")
	fmt.Fprintln(r.out, "  close <id>               Close a cursor")
	fmt.Fprintln(r.out, "  stats [json]             Show version, history and cache counters")
	fmt.Fprintln(r.out, "  hash                     Print the BLAKE3 hash of the contents")
	fmt.Fprintln(r.out, "  save <path>              Write the contents to path (.xz compresses)")
	fmt.Fprintln(r.out, "  load <path>              Replace the contents with a file")
	fmt.Fprintln(r.out, "  help                     Show this help")
	fmt.Fprintln(r.out, "  exit / quit / q          Exit")
}

func (r *REPL) cmdRead(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: read <offset> <n>")
	}
	off, err := parseInt(args[0])
	if err != nil {
		return err
	}
	n, err := parseInt(args[1])
	if err != nil {
		return err
	}
	data, err := r.buf.Read(off, n)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, strconv.Quote(string(data)))
	return nil
}

func (r *REPL) cmdInsert(rest string) error {
	fields, text := cutFields(rest, 1)
	if len(fields) != 1 || text == "" {
		return errors.New("usage: insert <offset> <text>")
	}
	off, err := parseInt(fields[0])
	if err != nil {
		return err
	}
	data, err := parseText(text)
	if err != nil {
		return err
	}
	if err := r.buf.Insert(off, data); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "ok (version %d, len %d)\n", r.buf.Version(), r.buf.Len())
	return nil
}

func (r *REPL) cmdDelete(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: delete <start> <end>")
	}
	start, err := parseInt(args[0])
	if err != nil {
		return err
	}
	end, err := parseInt(args[1])
	if err != nil {
		return err
	}
	if err := r.buf.Delete(start, end); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "ok (version %d, len %d)\n", r.buf.Version(), r.buf.Len())
	return nil
}

func (r *REPL) contents() ([]byte, error) {
	return r.buf.Read(0, r.buf.Len())
}

func (r *REPL) cmdCat() error {
	data, err := r.contents()
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s\n", data)
	return nil
}

func (r *REPL) cmdCursor(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: cursor <pos>")
	}
	pos, err := parseInt(args[0])
	if err != nil {
		return err
	}
	id := r.nextID
	r.nextID++
	r.cursors[id] = r.buf.IterAt(pos)
	fmt.Fprintf(r.out, "cursor %d at %d\n", id, pos)
	return nil
}

func (r *REPL) cursor(arg string) (*vbuf.Cursor, int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid cursor id %q", arg)
	}
	c, ok := r.cursors[id]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %d", errUnknownCursor, id)
	}
	return c, id, nil
}

func (r *REPL) cmdStep(args []string, step func(*vbuf.Cursor) (byte, bool)) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: next|prev <id> [n]")
	}
	c, _, err := r.cursor(args[0])
	if err != nil {
		return err
	}
	n := int64(1)
	if len(args) == 2 {
		if n, err = parseInt(args[1]); err != nil {
			return err
		}
	}

	var got []byte
	for i := int64(0); i < n; i++ {
		b, ok := step(c)
		if !ok {
			break
		}
		got = append(got, b)
	}
	if err := c.Err(); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s (pos %d)\n", strconv.Quote(string(got)), c.Position())
	return nil
}

func (r *REPL) cmdPeek(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: peek <id>")
	}
	c, _, err := r.cursor(args[0])
	if err != nil {
		return err
	}
	b, ok := c.Peek()
	if !ok {
		if err := c.Err(); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "<end>")
		return nil
	}
	fmt.Fprintln(r.out, strconv.QuoteRune(rune(b)))
	return nil
}

func (r *REPL) cmdSeek(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: seek <id> <pos>")
	}
	c, _, err := r.cursor(args[0])
	if err != nil {
		return err
	}
	pos, err := parseInt(args[1])
	if err != nil {
		return err
	}
	c.Seek(pos)
	return c.Err()
}

func (r *REPL) cmdPos(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: pos <id>")
	}
	c, _, err := r.cursor(args[0])
	if err != nil {
		return err
	}
	pos := c.Position()
	fmt.Fprintf(r.out, "pos %d (version %d)\n", pos, c.Version())
	return nil
}

func (r *REPL) cmdClose(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: close <id>")
	}
	c, id, err := r.cursor(args[0])
	if err != nil {
		return err
	}
	delete(r.cursors, id)
	return c.Close()
}

func (r *REPL) closeCursors() {
	for id, c := range r.cursors {
		c.Close()
		delete(r.cursors, id)
	}
}

func (r *REPL) cmdStats() {
	st := r.buf.Stats()
	fmt.Fprintf(r.out, "buffer:     %s\n", r.buf.ID())
	fmt.Fprintf(r.out, "length:     %d\n", r.buf.Len())
	fmt.Fprintf(r.out, "version:    %d\n", st.Version)
	fmt.Fprintf(r.out, "history:    %d edits\n", st.LogLen)
	if st.HasWatermark {
		fmt.Fprintf(r.out, "cursors:    %d (oldest at version %d)\n", st.ActiveCursors, st.Watermark)
	} else {
		fmt.Fprintf(r.out, "cursors:    0\n")
	}
	fmt.Fprintf(r.out, "cache:      %d/%d bytes in %d regions\n", st.Cache.Resident, st.Cache.Capacity, st.Cache.Regions)
	fmt.Fprintf(r.out, "hits:       %d\n", st.Cache.Hits)
	fmt.Fprintf(r.out, "misses:     %d\n", st.Cache.Misses)
	fmt.Fprintf(r.out, "evictions:  %d\n", st.Cache.Evictions)

	ids := make([]int, 0, len(r.cursors))
	for id := range r.cursors {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		c := r.cursors[id]
		fmt.Fprintf(r.out, "  cursor %d: pos %d (version %d)\n", id, c.Position(), c.Version())
	}
}

// cmdStatsJSON prints the stats as a single JSON object.
func (r *REPL) cmdStatsJSON() error {
	st := r.buf.Stats()
	doc := []byte(`{"cursors":[]}`)

	type field struct {
		path  string
		value any
	}
	fields := []field{
		{"buffer", r.buf.ID()},
		{"length", r.buf.Len()},
		{"version", st.Version},
		{"history", st.LogLen},
		{"active_cursors", st.ActiveCursors},
		{"cache.resident", st.Cache.Resident},
		{"cache.capacity", st.Cache.Capacity},
		{"cache.regions", st.Cache.Regions},
		{"cache.hits", st.Cache.Hits},
		{"cache.misses", st.Cache.Misses},
		{"cache.evictions", st.Cache.Evictions},
	}
	if st.HasWatermark {
		fields = append(fields, field{"watermark", st.Watermark})
	}

	var err error
	for _, f := range fields {
		if doc, err = sjson.SetBytes(doc, f.path, f.value); err != nil {
			return fmt.Errorf("encoding stats: %w", err)
		}
	}

	ids := make([]int, 0, len(r.cursors))
	for id := range r.cursors {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		c := r.cursors[id]
		entry := map[string]any{"id": id, "pos": c.Position(), "version": c.Version()}
		if doc, err = sjson.SetBytes(doc, "cursors.-1", entry); err != nil {
			return fmt.Errorf("encoding stats: %w", err)
		}
	}

	fmt.Fprintln(r.out, string(doc))
	return nil
}

func (r *REPL) cmdHash() error {
	data, err := r.contents()
	if err != nil {
		return err
	}
	sum := blake3.Sum256(data)
	fmt.Fprintln(r.out, hex.EncodeToString(sum[:]))
	return nil
}

func (r *REPL) cmdSave(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: save <path>")
	}
	data, err := r.contents()
	if err != nil {
		return err
	}
	if err := writeFile(args[0], data); err != nil {
		return err
	}
	r.logger.Info("saved buffer", "path", args[0], "bytes", len(data))
	fmt.Fprintf(r.out, "wrote %d bytes to %s\n", len(data), args[0])
	return nil
}

func (r *REPL) cmdLoad(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: load <path>")
	}
	data, err := readFile(args[0])
	if err != nil {
		return err
	}
	if err := r.buf.Delete(0, r.buf.Len()); err != nil {
		return err
	}
	if err := r.buf.Insert(0, data); err != nil {
		return err
	}
	r.logger.Info("loaded file", "path", args[0], "bytes", len(data))
	fmt.Fprintf(r.out, "read %d bytes from %s (version %d)\n", len(data), args[0], r.buf.Version())
	return nil
}

// cutFields splits the first n whitespace-separated fields off line and
// returns them with the remainder, leading whitespace removed.
func cutFields(line string, n int) ([]string, string) {
	var fields []string
	rest := strings.TrimLeft(line, " \t")
	for len(fields) < n && rest != "" {
		end := strings.IndexAny(rest, " \t")
		if end < 0 {
			fields = append(fields, rest)
			rest = ""
			break
		}
		fields = append(fields, rest[:end])
		rest = strings.TrimLeft(rest[end:], " \t")
	}
	return fields, rest
}

// parseText accepts raw text or a Go-quoted string.
func parseText(s string) ([]byte, error) {
	if strings.HasPrefix(s, `"`) || strings.HasPrefix(s, "`") {
		u, err := strconv.Unquote(s)
		if err != nil {
			return nil, fmt.Errorf("invalid quoted text %s: %w", s, err)
		}
		return []byte(u), nil
	}
	return []byte(s), nil
}

func parseInt(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return n, nil
}
