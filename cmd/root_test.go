// Copyright (c) 2019-2020 The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .
package cmd

import "testing"

func TestRootCmdFlagsRegistered(t *testing.T) {
	for _, name := range []string{
		"http-bind-addr",
		"data-dir",
		"bootstrap-url",
		"no-bootstrap",
		"validate-archive",
		"log-level",
	} {
		if rootCmd.Flags().Lookup(name) == nil {
			t.Fatalf("expected flag %q to be registered", name)
		}
	}
}
