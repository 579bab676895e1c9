// Package yamlcfg reads and writes configuration documents in YAML:
//
//	datasets:
//	  train:
//	    cifar10:
//	      use_synthetic: true
//	devices:
//	  main:
//	    cpu: {}
//	dataloader:
//	  num_workers: 4
//
// Each named record holds exactly one key, its variant. Decoding is
// strict: unknown fields are errors.
package yamlcfg
