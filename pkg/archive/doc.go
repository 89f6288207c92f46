/*
Package archive implements spec.md §4.5's member-iteration contract for
tar and zip bodies. Both adapters are registered in a fixed map at init
(§9: "a fixed registry... avoid dynamic module loading") under the
logical format names "tar" and "zip" that pkg/source derives from a
Source's file extension.

tar is stream-friendly: members are yielded in archive order as the body
is read, with automatic gzip/bzip2/xz/lzma detection by magic bytes so
.tar.gz, .tar.bz2, .tar.xz, and .tar.lz (and their tgz/tbz/txz/tlz
aliases) are all just "tar" to the caller.

zip requires random access, so the body is first buffered to a scratch
file in os.TempDir before iterating; Close removes it.
*/
package archive
