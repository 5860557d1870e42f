/*
Copyright © 2025 the daflow authors.
This file is part of daflow.

daflow is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

daflow is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with daflow.  If not, see <http://www.gnu.org/licenses/>.
*/

// In-place deletion of a per-variable attribute from a classic NetCDF
// (CDF-1/CDF-2) file. The cdf library can read and create headers but
// cannot delete an attribute from an existing file, so the edit is done
// at the byte level: the attribute entry is excised from the header,
// the variable's attribute count (and section tag, when the list
// empties) is patched, and the shortened header is rewritten at offset
// zero. Every variable's data offset is stored explicitly in the
// header, so the data region never moves; the bytes freed at the tail
// of the old header are zeroed and ignored by readers.

package daflow

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// Classic-format type and section tags.
const (
	ncByte   = 1
	ncChar   = 2
	ncShort  = 3
	ncInt    = 4
	ncFloat  = 5
	ncDouble = 6

	tagDimList = 0xA
	tagVarList = 0xB
	tagAttList = 0xC
)

var errHeaderTruncated = errors.New("header truncated")

// removeVariableAttribute deletes attribute attName from variable
// varName in the open classic NetCDF file f. A missing variable or
// attribute is a no-op.
func removeVariableAttribute(f *os.File, varName, attName string) error {
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	size := fi.Size()
	bufSize := int64(8 << 10)
	for {
		if bufSize > size {
			bufSize = size
		}
		buf := make([]byte, bufSize)
		if _, err := f.ReadAt(buf, 0); err != nil {
			return err
		}
		edited, headerEnd, err := editHeader(buf, varName, attName)
		if err == errHeaderTruncated && bufSize < size {
			bufSize *= 2
			continue
		}
		if err != nil {
			return err
		}
		if edited == nil {
			return nil
		}
		if _, err := f.WriteAt(edited, 0); err != nil {
			return err
		}
		// Zero the bytes the header no longer covers.
		gap := make([]byte, headerEnd-len(edited))
		if len(gap) > 0 {
			if _, err := f.WriteAt(gap, int64(len(edited))); err != nil {
				return err
			}
		}
		return nil
	}
}

// editHeader parses the header contained in buf and returns a copy with
// the one matching attribute removed and counts patched, along with the
// byte length of the original header. A nil first return value with a
// nil error means the variable or attribute was not present.
func editHeader(buf []byte, varName, attName string) ([]byte, int, error) {
	c := &headerCursor{buf: buf}
	if err := c.need(8); err != nil {
		return nil, 0, err
	}
	if buf[0] != 'C' || buf[1] != 'D' || buf[2] != 'F' {
		return nil, 0, errors.New("not a classic NetCDF file")
	}
	version := buf[3]
	if version != 1 && version != 2 {
		return nil, 0, fmt.Errorf("unsupported NetCDF version %d", version)
	}
	c.off = 8 // past magic and numrecs

	// Dimension and global-attribute sections are only walked over.
	for sec := 0; sec < 2; sec++ {
		tag, err := c.u32()
		if err != nil {
			return nil, 0, err
		}
		nelems, err := c.u32()
		if err != nil {
			return nil, 0, err
		}
		switch tag {
		case 0:
			if nelems != 0 {
				return nil, 0, errors.New("malformed empty section")
			}
		case tagDimList:
			for i := int32(0); i < nelems; i++ {
				if err := c.skipString(); err != nil {
					return nil, 0, err
				}
				if err := c.skip(4); err != nil {
					return nil, 0, err
				}
			}
		case tagAttList:
			for i := int32(0); i < nelems; i++ {
				if _, err := c.attribute(); err != nil {
					return nil, 0, err
				}
			}
		default:
			return nil, 0, fmt.Errorf("unexpected header tag %#x", tag)
		}
	}

	tag, err := c.u32()
	if err != nil {
		return nil, 0, err
	}
	nvars, err := c.u32()
	if err != nil {
		return nil, 0, err
	}
	if tag == 0 {
		return nil, c.off, nil // no variables at all
	}
	if tag != tagVarList {
		return nil, 0, fmt.Errorf("unexpected variable section tag %#x", tag)
	}

	var attStart, attEnd, attTagPos, nattsPos int
	var natts int32
	found := false
	for i := int32(0); i < nvars; i++ {
		vname, err := c.str()
		if err != nil {
			return nil, 0, err
		}
		ndims, err := c.u32()
		if err != nil {
			return nil, 0, err
		}
		if err := c.skip(4 * int(ndims)); err != nil {
			return nil, 0, err
		}
		varAttTagPos := c.off
		atag, err := c.u32()
		if err != nil {
			return nil, 0, err
		}
		varNattsPos := c.off
		na, err := c.u32()
		if err != nil {
			return nil, 0, err
		}
		if atag != tagAttList && !(atag == 0 && na == 0) {
			return nil, 0, fmt.Errorf("unexpected attribute section tag %#x", atag)
		}
		for j := int32(0); j < na; j++ {
			aStart := c.off
			aname, err := c.attribute()
			if err != nil {
				return nil, 0, err
			}
			if !found && vname == varName && aname == attName {
				found = true
				attStart, attEnd = aStart, c.off
				attTagPos, nattsPos, natts = varAttTagPos, varNattsPos, na
			}
		}
		extra := 12 // dtype, vsize, 32-bit begin
		if version == 2 {
			extra = 16 // 64-bit begin
		}
		if err := c.skip(extra); err != nil {
			return nil, 0, err
		}
	}
	headerEnd := c.off
	if !found {
		return nil, headerEnd, nil
	}

	out := make([]byte, 0, headerEnd-(attEnd-attStart))
	out = append(out, buf[:attStart]...)
	out = append(out, buf[attEnd:headerEnd]...)
	binary.BigEndian.PutUint32(out[nattsPos:], uint32(natts-1))
	if natts-1 == 0 {
		binary.BigEndian.PutUint32(out[attTagPos:], 0)
	}
	return out, headerEnd, nil
}

type headerCursor struct {
	buf []byte
	off int
}

func (c *headerCursor) need(n int) error {
	if c.off+n > len(c.buf) {
		return errHeaderTruncated
	}
	return nil
}

func (c *headerCursor) skip(n int) error {
	if err := c.need(n); err != nil {
		return err
	}
	c.off += n
	return nil
}

func (c *headerCursor) u32() (int32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(c.buf[c.off:]))
	c.off += 4
	return v, nil
}

// str reads a (length, padded bytes) encoded name.
func (c *headerCursor) str() (string, error) {
	n, err := c.u32()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", errors.New("negative string length")
	}
	padded := int(n+3) &^ 3
	if err := c.need(padded); err != nil {
		return "", err
	}
	s := string(c.buf[c.off : c.off+int(n)])
	c.off += padded
	return s, nil
}

func (c *headerCursor) skipString() error {
	_, err := c.str()
	return err
}

// attribute parses one attribute entry and returns its name.
func (c *headerCursor) attribute() (string, error) {
	name, err := c.str()
	if err != nil {
		return "", err
	}
	dtype, err := c.u32()
	if err != nil {
		return "", err
	}
	if dtype == ncChar {
		return name, c.skipString()
	}
	nelems, err := c.u32()
	if err != nil {
		return "", err
	}
	if nelems < 0 {
		return "", errors.New("negative attribute length")
	}
	var nbytes int
	switch dtype {
	case ncByte:
		nbytes = int(nelems+3) &^ 3
	case ncShort:
		nbytes = int(2*nelems+3) &^ 3
	case ncInt, ncFloat:
		nbytes = 4 * int(nelems)
	case ncDouble:
		nbytes = 8 * int(nelems)
	default:
		return "", fmt.Errorf("invalid attribute type %d", dtype)
	}
	return name, c.skip(nbytes)
}
