package command_test

import (
	"encoding/json"
	"testing"

	"github.com/plaenen/cartflow/pkg/command"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	params := map[string]any{"userName": "ann"}
	cmd := command.New("[dbo].[Customer_Update]", params, command.WithCaller(command.Caller{
		ID:          "ann",
		ServiceName: "Customer",
	}))

	require.NoError(t, cmd.Validate())
	assert.NotEmpty(t, cmd.ID)
	assert.Equal(t, "Customer", cmd.Caller.ServiceName)
	assert.False(t, cmd.CreatedAt.IsZero())

	params["userName"] = "changed"
	assert.Equal(t, "ann", cmd.Parameters["userName"], "parameters are copied at construction")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cmd  *command.Command
		err  error
	}{
		{"nil", nil, command.ErrEmptyName},
		{"no id", &command.Command{Name: "x"}, command.ErrEmptyID},
		{"blank name", &command.Command{ID: "1", Name: "  "}, command.ErrEmptyName},
		{"ok", &command.Command{ID: "1", Name: "x"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestAttempts(t *testing.T) {
	cmd := command.New("noop", nil)
	assert.False(t, cmd.HasAttempts())
	assert.Equal(t, 0, cmd.Attempts())

	assert.Equal(t, 1, cmd.IncrementAttempts())
	assert.Equal(t, 2, cmd.IncrementAttempts())
	assert.Equal(t, 2, cmd.Attempts())
}

func TestAttempts_SurviveJSON(t *testing.T) {
	cmd := command.New("noop", nil)
	cmd.IncrementAttempts()
	cmd.IncrementAttempts()

	raw, err := json.Marshal(cmd)
	require.NoError(t, err)

	var decoded command.Command
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, 2, decoded.Attempts())
	assert.Equal(t, 3, decoded.IncrementAttempts())
}

func TestClone(t *testing.T) {
	cmd := command.New("noop", map[string]any{"a": 1})
	cmd.SetProperty("p", "x")

	clone := cmd.Clone()
	clone.Parameters["a"] = 2
	clone.SetProperty("p", "y")

	assert.Equal(t, 1, cmd.Parameters["a"])
	v, _ := cmd.Property("p")
	assert.Equal(t, "x", v)
	assert.Nil(t, (*command.Command)(nil).Clone())
}

func TestSQLStatement(t *testing.T) {
	cmd := command.New("[dbo].[ProductInShoppingCart_Update]", map[string]any{
		"idShoppingCart":   "cart-1",
		"@quantity":        3,
		"unitPrice":        decimal.RequireFromString("12.50"),
		"shortDescription": "O'Brien mug",
		"gift":             true,
		"note":             nil,
	})

	assert.Equal(t,
		"exec [dbo].[ProductInShoppingCart_Update] @quantity = 3, @gift = 1, @idShoppingCart = 'cart-1', @note = NULL, @shortDescription = 'O''Brien mug', @unitPrice = 12.5",
		cmd.SQLStatement())
}

func TestParamName(t *testing.T) {
	assert.Equal(t, "@userName", command.ParamName("userName"))
	assert.Equal(t, "@userName", command.ParamName("@userName"))
}
