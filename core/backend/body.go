package backend

import (
	"io"
	"os"

	"minio-backend/core/errs"
)

// rewindable returns r itself when it can seek. Other bodies are spooled to
// a temporary file so a conflicting upload can be replayed under another
// name. release removes the spool file.
func rewindable(r io.Reader) (io.ReadSeeker, func(), error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs, func() {}, nil
	}

	f, err := os.CreateTemp("", "minio-backend-upload-*")
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindPermanent, "spool upload body", err)
	}
	release := func() {
		f.Close()
		os.Remove(f.Name())
	}
	if _, err := io.Copy(f, r); err != nil {
		release()
		return nil, nil, errs.Wrap(errs.KindPermanent, "spool upload body", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		release()
		return nil, nil, errs.Wrap(errs.KindPermanent, "spool upload body", err)
	}
	return f, release, nil
}
