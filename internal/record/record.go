// Package record encodes connection records as tab-separated text lines.
package record

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Delimiter separates fields within a line.
	Delimiter = '\t'

	// MaxFieldLen bounds every string field of a record.
	MaxFieldLen = 1023

	// NumFields is the number of fields on every line.
	NumFields = 5

	DefaultUser = "root"
	DefaultPort = 22
	MaxPort     = 65535
)

var (
	// ErrInvalidField is returned when a field is too long, empty where required,
	// or contains a delimiter.
	ErrInvalidField = errors.New("invalid record field")

	// ErrMalformedLine is returned when a line does not split into NumFields fields.
	ErrMalformedLine = errors.New("malformed record line")
)

// Record is one persisted connection descriptor.
type Record struct {
	Name       string
	User       string
	Host       string
	Port       int
	Credential string
}

// Key returns the natural lookup key of the record.
func (r Record) Key() string {
	return r.Host + ":" + strconv.Itoa(r.Port)
}

// WithDefaults returns a copy with the user, port and name defaults applied.
func (r Record) WithDefaults() Record {
	if r.User == "" {
		r.User = DefaultUser
	}
	if r.Port == 0 {
		r.Port = DefaultPort
	}
	if r.Name == "" {
		r.Name = r.Host
	}
	return r
}

// Validate checks the bounds of every field. Name and Credential may be empty.
func (r Record) Validate() error {
	if err := checkField("host", r.Host, true); err != nil {
		return err
	}
	if err := checkField("user", r.User, true); err != nil {
		return err
	}
	if err := checkField("name", r.Name, false); err != nil {
		return err
	}
	if err := checkField("credential", r.Credential, false); err != nil {
		return err
	}
	return ValidatePort(r.Port)
}

// ValidatePort checks that port is within 1..65535.
func ValidatePort(port int) error {
	if port < 1 || port > MaxPort {
		return fmt.Errorf("%w: port %d out of range 1-%d", ErrInvalidField, port, MaxPort)
	}
	return nil
}

func checkField(name, value string, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidField, name)
	}
	if len(value) > MaxFieldLen {
		return fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrInvalidField, name, len(value), MaxFieldLen)
	}
	if strings.ContainsAny(value, "\t\r\n") {
		return fmt.Errorf("%w: %s contains a tab or newline", ErrInvalidField, name)
	}
	return nil
}

// Format serializes r as a single line including the trailing newline.
func Format(r Record) string {
	var b strings.Builder
	b.Grow(len(r.Name) + len(r.User) + len(r.Host) + len(r.Credential) + 12)
	b.WriteString(r.Name)
	b.WriteByte(Delimiter)
	b.WriteString(r.User)
	b.WriteByte(Delimiter)
	b.WriteString(r.Host)
	b.WriteByte(Delimiter)
	b.WriteString(strconv.Itoa(r.Port))
	b.WriteByte(Delimiter)
	b.WriteString(r.Credential)
	b.WriteByte('\n')
	return b.String()
}

// Parse decodes one line. A trailing "\n" or "\r\n" is ignored.
func Parse(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Split(line, string(Delimiter))
	if len(fields) != NumFields {
		return Record{}, fmt.Errorf("%w: want %d fields, got %d", ErrMalformedLine, NumFields, len(fields))
	}

	port, err := strconv.Atoi(fields[3])
	if err != nil {
		return Record{}, fmt.Errorf("%w: port %q: %v", ErrMalformedLine, fields[3], err)
	}

	r := Record{
		Name:       fields[0],
		User:       fields[1],
		Host:       fields[2],
		Port:       port,
		Credential: fields[4],
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Offsets holds the byte offset and length of each field within a raw line.
type Offsets struct {
	Name, User, Host, Port, Credential Span
}

// Span is a byte range within a line.
type Span struct {
	Off int
	Len int
}

// LineOffsets locates the fields of a raw line (without its newline).
func LineOffsets(line string) (Offsets, error) {
	line = strings.TrimRight(line, "\r\n")
	var spans [NumFields]Span
	start, n := 0, 0
	for i := 0; i <= len(line); i++ {
		if i < len(line) && line[i] != Delimiter {
			continue
		}
		if n == NumFields {
			return Offsets{}, fmt.Errorf("%w: too many fields", ErrMalformedLine)
		}
		spans[n] = Span{Off: start, Len: i - start}
		n++
		start = i + 1
	}
	if n != NumFields {
		return Offsets{}, fmt.Errorf("%w: want %d fields, got %d", ErrMalformedLine, NumFields, n)
	}
	return Offsets{Name: spans[0], User: spans[1], Host: spans[2], Port: spans[3], Credential: spans[4]}, nil
}
