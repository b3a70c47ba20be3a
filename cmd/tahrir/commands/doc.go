// Package commands holds the tahrir command line: init creates a node
// directory, id prints the node's seed file, seed adds another node's seed
// file and run starts the node.
package commands
