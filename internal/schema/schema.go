// Package schema holds the HCL block structures of a configuration file.
// Record bodies are left undecoded; the hcl package decodes each one onto
// the record its variant label selects.
package schema

import (
	"github.com/hashicorp/hcl/v2"
)

// Block is a labelled record block such as
//
//	dataset "cifar10" "train" { ... }
type Block struct {
	Variant string   `hcl:"variant,label"`
	Name    string   `hcl:"name,label"`
	Body    hcl.Body `hcl:",remain"`
}

// Section is an unlabelled block whose body is decoded later.
type Section struct {
	Body hcl.Body `hcl:",remain"`
}

// File is the top-level structure of a configuration file. Any other
// top-level block or attribute is an error.
type File struct {
	Datasets   []*Block `hcl:"dataset,block"`
	Models     []*Block `hcl:"model,block"`
	Devices    []*Block `hcl:"device,block"`
	Dataloader *Section `hcl:"dataloader,block"`
}
