/*

Package share keeps a directory of files that LAN peers upload to and
download from.

Vocabulary:

- root: absolute directory holding every shared file; nothing outside it
	is ever written or served
- raw path: path as a client sent it, e.g. a webkitRelativePath; never
	trusted
- safe path: slash-separated path relative to root whose segments passed
	Sanitize; see SafePath
- segment: one component of a path
- staging dir: hidden directory under root where uploads are written
	before being renamed into place
- batch: the items of one upload request; written concurrently, at most
	Workers at a time across all batches
- listing: every file and directory under root, in walk order
- archive: zip of the whole tree
- purge: remove everything under root, plus any cached artifacts
- artifact: file outside root derived from it, like a QR code PNG
- owned root: one lanshare created or found empty; only these are purged
	at startup

*/

package share
