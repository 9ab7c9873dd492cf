// Command sqlfs mounts a database-backed filesystem at a local mount
// point, translating POSIX calls into SQL against the tree, inodes, and
// data_blocks tables of a configured database.
package main

import "github.com/samzyy/sqlfs/internal/cmd"

func main() {
	cmd.Execute()
}
