// Package hcl reads and writes configuration documents in HCL. Each record
// is a block labelled with its variant and name:
//
//	dataset "cifar10" "train" {
//	  use_synthetic = true
//	}
//
// Attribute expressions may refer to env.<NAME> for environment variables.
package hcl
