/*
Package session serializes the turns of each conversation.

Turns of the same conversation id never overlap: the Manager keeps one
reference-counted mutex per id in memory and, when configured with a
DistributedLocker, also takes a lock shared by every replica.
*/
package session
