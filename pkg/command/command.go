// Package command defines the unit of work dispatched through sequential
// executors and processors.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/plaenen/cartflow/pkg/idgen"
	"github.com/shopspring/decimal"
)

// AttemptsProperty is the property that counts failed executions.
const AttemptsProperty = "UnhandledExceptionsAttemptsNumber"

var (
	// ErrEmptyName is returned for commands without an operation name.
	ErrEmptyName = errors.New("command name is required")

	// ErrEmptyID is returned for commands without an identifier.
	ErrEmptyID = errors.New("command id is required")
)

// Caller identifies the entity that submitted a command.
type Caller struct {
	ID              string `json:"id,omitempty"`
	ApplicationName string `json:"application_name,omitempty"`
	ServiceName     string `json:"service_name,omitempty"`
	ServiceURI      string `json:"service_uri,omitempty"`
}

// Command is a named operation with parameters. Name, Parameters and Caller
// are fixed at construction. Properties carry bookkeeping such as retry
// counters and are the only part mutated after submission.
type Command struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Caller     Caller         `json:"caller"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Option configures a new Command.
type Option func(*Command)

// WithCaller records the submitting entity.
func WithCaller(c Caller) Option {
	return func(cmd *Command) {
		cmd.Caller = c
	}
}

// WithID overrides the generated identifier.
func WithID(id string) Option {
	return func(cmd *Command) {
		cmd.ID = id
	}
}

// WithProperty presets a property.
func WithProperty(key string, value any) Option {
	return func(cmd *Command) {
		cmd.SetProperty(key, value)
	}
}

// New creates a command with a sortable id.
func New(name string, params map[string]any, opts ...Option) *Command {
	cmd := &Command{
		ID:         idgen.MustGenerateSortableID(),
		Name:       name,
		Parameters: maps.Clone(params),
		CreatedAt:  time.Now().UTC(),
	}
	if cmd.Parameters == nil {
		cmd.Parameters = make(map[string]any)
	}
	for _, opt := range opts {
		opt(cmd)
	}
	return cmd
}

// Validate checks the fields every dispatcher relies on.
func (c *Command) Validate() error {
	if c == nil {
		return ErrEmptyName
	}
	if c.ID == "" {
		return ErrEmptyID
	}
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	return nil
}

// Clone returns a copy whose maps can be mutated independently.
func (c *Command) Clone() *Command {
	if c == nil {
		return nil
	}
	out := *c
	out.Parameters = maps.Clone(c.Parameters)
	out.Properties = maps.Clone(c.Properties)
	return &out
}

// Property returns a property value.
func (c *Command) Property(key string) (any, bool) {
	v, ok := c.Properties[key]
	return v, ok
}

// SetProperty sets a property value.
func (c *Command) SetProperty(key string, value any) {
	if c.Properties == nil {
		c.Properties = make(map[string]any)
	}
	c.Properties[key] = value
}

// Attempts returns the recorded number of failed executions, 0 when none
// was recorded.
func (c *Command) Attempts() int {
	v, ok := c.Property(AttemptsProperty)
	if !ok {
		return 0
	}
	n, _ := toInt(v)
	return n
}

// HasAttempts reports whether a failed execution has been recorded.
func (c *Command) HasAttempts() bool {
	_, ok := c.Property(AttemptsProperty)
	return ok
}

// IncrementAttempts records one more failed execution. The first failure
// records 1. It returns the new count.
func (c *Command) IncrementAttempts() int {
	n := 1
	if c.HasAttempts() {
		n = c.Attempts() + 1
	}
	c.SetProperty(AttemptsProperty, n)
	return n
}

// SQLStatement renders the command as a procedure call for logs, e.g.
// exec [dbo].[Customer_Update] @userName = 'ann', @isEnabled = 1
func (c *Command) SQLStatement() string {
	keys := make([]string, 0, len(c.Parameters))
	for k := range c.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("exec ")
	b.WriteString(c.Name)
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(" ")
		b.WriteString(ParamName(k))
		b.WriteString(" = ")
		b.WriteString(sqlLiteral(c.Parameters[k]))
	}
	return b.String()
}

func (c *Command) String() string {
	return fmt.Sprintf("%s(%s)", c.Name, c.ID)
}

// ParamName returns key with a leading @.
func ParamName(key string) string {
	if strings.HasPrefix(key, "@") {
		return key
	}
	return "@" + key
}

func sqlLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case bool:
		if x {
			return "1"
		}
		return "0"
	case decimal.Decimal:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	case json.Number:
		n, err := x.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(x)
		return n, err == nil
	default:
		return 0, false
	}
}
