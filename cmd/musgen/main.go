// Command musgen generates the mus-format serializers of the chunk records
// stored by the vector store. Run it through go generate in core.
package main

import (
	"os"
	"reflect"
	"strings"

	musgen "github.com/mus-format/musgen-go/mus"
	genops "github.com/mus-format/musgen-go/options/generate"
	structops "github.com/mus-format/musgen-go/options/struct"
	typeops "github.com/mus-format/musgen-go/options/type"
	"github.com/poiesic/blueprint/core"
)

const output = "./core/records_mus.gen.go"

func main() {
	cwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	// go generate runs in core; write relative to the module root.
	if strings.HasSuffix(cwd, "core") {
		if err := os.Chdir(".."); err != nil {
			panic(err)
		}
	}
	g, err := musgen.NewCodeGenerator(
		genops.WithPkgPath("github.com/poiesic/blueprint/core"),
	)
	if err != nil {
		panic(err)
	}

	g.AddDefinedType(reflect.TypeFor[core.ID]())

	// Strategy, StartOffset, EndOffset, JobID, Debug
	err = g.AddStruct(reflect.TypeFor[core.ChunkMetadata](),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField())
	if err != nil {
		panic(err)
	}

	// Unix micro timestamps
	micro := typeops.WithTimeUnit(typeops.Micro)
	// ID, Content, Embedding, Metadata, ProjectID, DocumentID, PageNumber,
	// ChunkIndex, Source, CreatedAt
	err = g.AddStruct(reflect.TypeFor[core.DocumentChunk](),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(micro))
	if err != nil {
		panic(err)
	}

	bs, err := g.Generate()
	if err != nil {
		panic(err)
	}
	if err := os.WriteFile(output, bs, 0644); err != nil {
		panic(err)
	}
}
