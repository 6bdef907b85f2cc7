// Copyright (c) 2019-2020 The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .
package main

import "github.com/rootSig/electrum-atom-t/cmd"

func main() {
	cmd.Execute()
}
