package logtail

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Read returns at most maxLines from the end of the file at path. A missing
// file yields no lines and no error.
func Read(path string, maxLines int) ([]string, error) {
	if maxLines <= 0 {
		return nil, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	ring := make([]string, maxLines)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	count, next := 0, 0
	for scanner.Scan() {
		ring[next] = scanner.Text()
		next = (next + 1) % maxLines
		count++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	if count < maxLines {
		return ring[:count], nil
	}
	lines := make([]string, maxLines)
	for i := range lines {
		lines[i] = ring[(next+i)%maxLines]
	}
	return lines, nil
}

// Entry is one decoded JSON log line.
type Entry struct {
	Time   time.Time
	Level  string
	Logger string
	Msg    string
	// Fields holds the remaining keys as key=value pairs in file order.
	Fields []string
}

var reserved = map[string]bool{"ts": true, "level": true, "logger": true, "msg": true, "caller": true, "stacktrace": true}

// Parse decodes a zap JSON line. Lines that are not JSON objects are
// reported with ok false.
func Parse(line string) (Entry, bool) {
	if !gjson.Valid(line) {
		return Entry{}, false
	}
	doc := gjson.Parse(line)
	if !doc.IsObject() {
		return Entry{}, false
	}

	e := Entry{
		Level:  doc.Get("level").String(),
		Logger: doc.Get("logger").String(),
		Msg:    doc.Get("msg").String(),
	}
	if ts := doc.Get("ts"); ts.Exists() {
		if ts.Type == gjson.Number {
			sec, frac := math.Modf(ts.Float())
			e.Time = time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond))
		} else if t, err := time.Parse("2006-01-02T15:04:05.000Z0700", ts.String()); err == nil {
			e.Time = t
		}
	}
	doc.ForEach(func(k, v gjson.Result) bool {
		if !reserved[k.String()] {
			e.Fields = append(e.Fields, k.String()+"="+v.String())
		}
		return true
	})
	return e, true
}

// Format renders line for a narrow screen: time, level, logger, message and
// fields. Lines that do not parse are returned unchanged.
func Format(line string) string {
	e, ok := Parse(line)
	if !ok {
		return line
	}
	var b strings.Builder
	if !e.Time.IsZero() {
		b.WriteString(e.Time.Local().Format("15:04:05"))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%-5s ", strings.ToUpper(e.Level))
	if e.Logger != "" {
		b.WriteString(e.Logger)
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	for _, f := range e.Fields {
		b.WriteByte(' ')
		b.WriteString(f)
	}
	return b.String()
}
