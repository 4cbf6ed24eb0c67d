package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/dittoshard/pkg/config"
)

func main() {
	output := flag.String("o", "config.schema.json", "Output file")
	flag.Parse()

	// Config keys come from mapstructure tags, so the schema must use them too
	// or editors would suggest Go field names.
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "mapstructure",
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "DittoShard Configuration"
	schema.Description = "Configuration schema for the DittoShard shard server"
	schema.Version = "1.0.0"

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling schema: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*output, schemaJSON, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing schema file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("JSON schema written to %s\n", *output)
}
