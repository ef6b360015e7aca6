package contract

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Master caches broker contract ids against canonical symbols. Executions
// and position pushes frequently carry only the contract id.
type Master struct {
	symbolToConID map[string]int64
	conIDToSymbol map[int64]string
	mu            sync.RWMutex
	logger        *zap.Logger
}

// NewMaster creates an empty instrument master.
func NewMaster(logger *zap.Logger) *Master {
	return &Master{
		symbolToConID: make(map[string]int64),
		conIDToSymbol: make(map[int64]string),
		logger:        logger,
	}
}

// LoadFromFile loads a JSON object of canonical symbol to contract id.
// Symbols that do not parse are skipped with a warning.
func (m *Master) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read symbol mapping file: %w", err)
	}

	var mappings map[string]int64
	if err := json.Unmarshal(data, &mappings); err != nil {
		return fmt.Errorf("failed to unmarshal symbol mappings: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	loaded := 0
	for symbol, conID := range mappings {
		if _, err := ToNative(symbol); err != nil {
			m.logger.Warn("contract.mapping_skipped", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		m.symbolToConID[symbol] = conID
		m.conIDToSymbol[conID] = symbol
		loaded++
	}

	m.logger.Info("contract.mappings_loaded", zap.Int("count", loaded))
	return nil
}

// ConID returns the contract id for a canonical symbol.
func (m *Master) ConID(symbol string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.symbolToConID[symbol]
	return id, ok
}

// Symbol returns the canonical symbol for a contract id.
func (m *Master) Symbol(conID int64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	symbol, ok := m.conIDToSymbol[conID]
	return symbol, ok
}

// Add records a mapping, replacing any previous one for either key.
func (m *Master) Add(symbol string, conID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.symbolToConID[symbol]; ok && old != conID {
		delete(m.conIDToSymbol, old)
	}
	m.symbolToConID[symbol] = conID
	m.conIDToSymbol[conID] = symbol
}

// Resolve returns the canonical symbol for n, preferring a cached mapping
// by contract id and falling back to ToCanonical. A successful fallback is
// cached when n carries a contract id.
func (m *Master) Resolve(n Native) (string, error) {
	if n.ConID != 0 {
		if s, ok := m.Symbol(n.ConID); ok {
			return s, nil
		}
	}
	s, err := ToCanonical(n)
	if err != nil {
		return "", err
	}
	if n.ConID != 0 {
		m.Add(s, n.ConID)
	}
	return s, nil
}

// All returns a copy of every mapping.
func (m *Master) All() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]int64, len(m.symbolToConID))
	for k, v := range m.symbolToConID {
		result[k] = v
	}
	return result
}
