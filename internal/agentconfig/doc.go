// Package agentconfig merges a repo-managed agent config overlay into a
// target config file and later removes exactly the entries it added,
// restoring overridden values and preserving anything the user changed in
// between. A state ledger written at install time drives removal.
package agentconfig
