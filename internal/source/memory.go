package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/andresuchdata/mixopt/internal/normalize"
)

// MemoryLoader serves tables held in memory. It is safe for concurrent
// use and counts how often each table was requested.
type MemoryLoader struct {
	tables
	mu    sync.Mutex
	data  map[string]*normalize.Table
	calls map[string]int
}

func NewMemoryLoader(ts normalize.Tables) *MemoryLoader {
	l := &MemoryLoader{data: make(map[string]*normalize.Table), calls: make(map[string]int)}
	for name, t := range map[string]*normalize.Table{
		normalize.TableStock:         ts.Stock,
		normalize.TableClasses:       ts.Classes,
		normalize.TableOrders:        ts.Orders,
		normalize.TableCompatibility: ts.Compatibility,
		normalize.TablePrices:        ts.Prices,
		normalize.TableCosts:         ts.Costs,
		normalize.TableDemand:        ts.Demand,
	} {
		if t != nil {
			l.data[name] = t
		}
	}
	l.fetch = l.read
	return l
}

// Set replaces one table.
func (l *MemoryLoader) Set(table string, t *normalize.Table) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data[table] = t
}

// Calls returns how many times table was loaded.
func (l *MemoryLoader) Calls(table string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[table]
}

func (l *MemoryLoader) read(_ context.Context, table string) (*normalize.Table, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[table]++
	t, ok := l.data[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableMissing, table)
	}
	return t, nil
}
