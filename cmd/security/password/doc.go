// Package password hashes account passwords with Argon2id and enforces the account password rules
// (minimum length, similarity to profile attributes, common and all-numeric passwords).
//
// Hashes use the PHC string layout so parameters travel with each stored value:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
package password
