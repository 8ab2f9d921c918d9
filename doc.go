// Package raidpir implements the cryptographic core of the Per-Query
// Preprocessing variant of RAID-PIR (Günther et al.): a multi-server
// private information retrieval protocol in which a client retrieves a
// single database element from k non-colluding servers without revealing
// which element it asked for, provided fewer than r of the k servers
// collude.
//
// The package is a library, not a daemon: Client and Server communicate
// through Go values (seeds, query byte slices, Elements), and it is the
// caller's responsibility to get a seed from the right server to the right
// Client.Query call and each server's query chunk to that same server. See
// the adminhttp and dbsource packages for the operational surface (health,
// metrics, remote database loading) built around this core.
package raidpir
