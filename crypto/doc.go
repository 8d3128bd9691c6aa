/*
Package crypto provides the basis for secure communication between group members and the
sequencer. Other than making a proper mutual TLS configuration available, it can also set up
the internal PKI needed for it: a root certificate and one signed key pair per node.
*/
package crypto
