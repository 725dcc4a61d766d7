package transcoder

import "os"

// removeFile removes a file, ignoring errors
func removeFile(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}
