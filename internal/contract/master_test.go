package contract

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMaster_LoadFromFile(t *testing.T) {
	master := NewMaster(zap.NewNop())

	content := `{
		"AMZN STK SMART": 3691937,
		"ESM9 FUT GLOBEX": 333866981,
		"not a symbol": 1
	}`
	tmpFile, err := os.CreateTemp("", "symbol_mapping_*.json")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.WriteString(content)
	require.NoError(t, err)
	tmpFile.Close()

	require.NoError(t, master.LoadFromFile(tmpFile.Name()))

	id, ok := master.ConID("AMZN STK SMART")
	assert.True(t, ok)
	assert.Equal(t, int64(3691937), id)

	symbol, ok := master.Symbol(333866981)
	assert.True(t, ok)
	assert.Equal(t, "ESM9 FUT GLOBEX", symbol)

	_, ok = master.Symbol(1)
	assert.False(t, ok)
	assert.Len(t, master.All(), 2)
}

func TestMaster_LoadFromFile_Errors(t *testing.T) {
	master := NewMaster(zap.NewNop())
	assert.Error(t, master.LoadFromFile("/nonexistent/path.json"))

	tmpFile, err := os.CreateTemp("", "symbol_mapping_*.json")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())
	_, _ = tmpFile.WriteString("{not json")
	tmpFile.Close()
	assert.Error(t, master.LoadFromFile(tmpFile.Name()))
}

func TestMaster_AddReplacesStaleReverseEntry(t *testing.T) {
	master := NewMaster(zap.NewNop())
	master.Add("AMZN STK SMART", 1)
	master.Add("AMZN STK SMART", 2)

	_, ok := master.Symbol(1)
	assert.False(t, ok)
	s, ok := master.Symbol(2)
	assert.True(t, ok)
	assert.Equal(t, "AMZN STK SMART", s)
}

func TestMaster_Resolve(t *testing.T) {
	master := NewMaster(zap.NewNop())
	master.Add("ESM9 FUT GLOBEX", 42)

	s, err := master.Resolve(Native{ConID: 42})
	require.NoError(t, err)
	assert.Equal(t, "ESM9 FUT GLOBEX", s)

	s, err = master.Resolve(Native{ConID: 7, SecType: SecTypeStock, LocalSymbol: "MSFT", Exchange: "SMART"})
	require.NoError(t, err)
	assert.Equal(t, "MSFT STK SMART", s)
	id, ok := master.ConID("MSFT STK SMART")
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)

	_, err = master.Resolve(Native{ConID: 8})
	assert.ErrorIs(t, err, ErrInvalidSymbol)
}
