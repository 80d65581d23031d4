package schema

import (
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var compileCache sync.Map

// CompileRaw compiles a raw JSON-Schema document, verifying it is
// well-formed JSON Schema. Compiled schemas are cached by content since tool
// definitions are immutable once registered.
func CompileRaw(raw []byte) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty schema document")
	}
	key := string(raw)
	if cached, ok := compileCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	compileCache.Store(key, compiled)
	return compiled, nil
}
