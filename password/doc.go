// Package password hashes and verifies admin passwords.
//
// New hashes use argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Legacy bcrypt hashes still verify, and [Hasher.NeedsRehash] reports them (and
// argon2id hashes with weaker parameters) so the caller can re-hash on the next
// successful login.
package password
