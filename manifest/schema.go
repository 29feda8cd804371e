package manifest

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// schemaSource constrains the decoded brick.toml. Definitions are closed,
// so unknown sections and keys are rejected.
const schemaSource = `
#Manifest: {
	project?: {
		name?:  string & =~"^[A-Za-z0-9._-]+$"
		entry?: string & !=""
	}
	limits?: {
		"stack-cells"?: int & >=64 & <=1048576
		frames?:        int & >=8 & <=65536
		depth?:         int & >=16 & <=65536
	}
	cache?: {
		path?:    string
		disable?: bool
	}
	log?: {
		verbosity?: int & >=-4 & <=2
		file?:      string
	}
}
`

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error
)

func loadSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileString(schemaSource, cue.Filename("brick.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compiling manifest schema: %w", err)
			return
		}
		schemaDef = v.LookupPath(cue.ParsePath("#Manifest"))
		schemaErr = schemaDef.Err()
	})
	return schemaCtx, schemaDef, schemaErr
}

// validate checks raw decoded TOML against the schema.
func validate(raw map[string]any) error {
	ctx, def, err := loadSchema()
	if err != nil {
		return err
	}
	v := def.Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return nil
}
