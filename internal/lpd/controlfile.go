package lpd

import "bytes"

// buildControlFile assembles the RFC 1179 control file for one job. Line
// order matters to some spoolers: host, user, print directive, unlink,
// display name. The print directive is 'o' for raw (pass-through) jobs and
// 'p' for filtered ones.
func buildControlFile(localHost, user, jobNumber, docName string, raw bool) []byte {
	dataName := "dfA" + jobNumber + localHost

	var buf bytes.Buffer
	buf.WriteString("H" + localHost + "\n")
	buf.WriteString("P" + user + "\n")
	if raw {
		buf.WriteString("o" + dataName + "\n")
	} else {
		buf.WriteString("p" + dataName + "\n")
	}
	buf.WriteString("U" + dataName + "\n")
	buf.WriteString("N" + docName + "\n")
	return buf.Bytes()
}
