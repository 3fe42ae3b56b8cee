package config

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
	"tools.zach/dev/sigmsg/internal/migrate"
)

func init() {
	migrate.Config.Register(migrate.Migration{
		Version:     2,
		Description: "rename watch.signals to watch.include and log.backups to log.max_backups",
		Upgrade: func(data []byte) ([]byte, error) {
			return rewriteTables(data, func(doc map[string]any) {
				renameKey(doc, "watch", "signals", "include")
				renameKey(doc, "log", "backups", "max_backups")
				doc["version"] = 2
			})
		},
	})
}

// rewriteTables decodes data into a generic document, applies edit, and
// encodes the result. Comments do not survive.
func rewriteTables(data []byte, edit func(map[string]any)) ([]byte, error) {
	doc := map[string]any{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	edit(doc)
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

// renameKey moves table.from to table.to unless table.to is already set.
func renameKey(doc map[string]any, table, from, to string) {
	t, ok := doc[table].(map[string]any)
	if !ok {
		return
	}
	v, ok := t[from]
	if !ok {
		return
	}
	delete(t, from)
	if _, exists := t[to]; !exists {
		t[to] = v
	}
}
