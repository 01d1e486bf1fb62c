package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

// Stream layout:
//
//	magic(8) | salt(16) | noncePrefix(8) | { len(4) | sealed chunk }* | len(4)=0
//
// Each chunk nonce is noncePrefix followed by a big-endian chunk counter. The
// zero-length terminator lets decryption detect a truncated stream.
var magic = [8]byte{'A', 'R', 'C', 'H', 'V', 'G', 'C', '1'}

const (
	saltSize  = 16
	chunkSize = 32 * 1024
)

var ErrTruncated = errors.New("encrypted stream is truncated")

func deriveAEAD(password string, salt []byte) (cipher.AEAD, error) {
	if password == "" {
		return nil, fmt.Errorf("encryption password is empty")
	}

	key, err := scrypt.Key([]byte(password), salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	if gcm.NonceSize() != 12 {
		return nil, fmt.Errorf("unexpected GCM nonce size: %d", gcm.NonceSize())
	}
	return gcm, nil
}

// EncryptAESGCM encrypts src into dst using AES-256-GCM with a scrypt
// derived key. It returns the number of plaintext bytes consumed.
func EncryptAESGCM(dst io.Writer, src io.Reader, password string) (int64, error) {
	header := make([]byte, len(magic)+saltSize+8)
	copy(header, magic[:])
	if _, err := rand.Read(header[len(magic):]); err != nil {
		return 0, err
	}
	salt := header[len(magic) : len(magic)+saltSize]
	noncePrefix := header[len(magic)+saltSize:]

	gcm, err := deriveAEAD(password, salt)
	if err != nil {
		return 0, err
	}

	if _, err := dst.Write(header); err != nil {
		return 0, err
	}

	nonce := make([]byte, 12)
	copy(nonce[:8], noncePrefix)

	buf := make([]byte, chunkSize)
	var lenBuf [4]byte
	var counter uint32
	var total int64

	for {
		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			binary.BigEndian.PutUint32(nonce[8:], counter)
			counter++

			sealed := gcm.Seal(nil, nonce, buf[:n], nil)
			binary.BigEndian.PutUint32(lenBuf[:], uint32(n))
			if _, err := dst.Write(lenBuf[:]); err != nil {
				return total, err
			}
			if _, err := dst.Write(sealed); err != nil {
				return total, err
			}
			total += int64(n)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return total, readErr
		}
	}

	binary.BigEndian.PutUint32(lenBuf[:], 0)
	if _, err := dst.Write(lenBuf[:]); err != nil {
		return total, err
	}
	return total, nil
}

// DecryptAESGCM reverses EncryptAESGCM.
func DecryptAESGCM(dst io.Writer, src io.Reader, password string) (int64, error) {
	header := make([]byte, len(magic)+saltSize+8)
	if _, err := io.ReadFull(src, header); err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	if [8]byte(header[:8]) != magic {
		return 0, fmt.Errorf("invalid encrypted stream header")
	}

	gcm, err := deriveAEAD(password, header[len(magic):len(magic)+saltSize])
	if err != nil {
		return 0, err
	}

	nonce := make([]byte, 12)
	copy(nonce[:8], header[len(magic)+saltSize:])

	var lenBuf [4]byte
	var counter uint32
	var total int64

	for {
		if _, err := io.ReadFull(src, lenBuf[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return total, ErrTruncated
			}
			return total, err
		}
		plainLen := binary.BigEndian.Uint32(lenBuf[:])
		if plainLen == 0 {
			break
		}
		if plainLen > chunkSize {
			return total, fmt.Errorf("chunk length %d exceeds %d", plainLen, chunkSize)
		}

		sealed := make([]byte, int(plainLen)+gcm.Overhead())
		if _, err := io.ReadFull(src, sealed); err != nil {
			return total, ErrTruncated
		}
		binary.BigEndian.PutUint32(nonce[8:], counter)
		counter++

		plaintext, err := gcm.Open(nil, nonce, sealed, nil)
		if err != nil {
			return total, fmt.Errorf("decrypt failed: %w", err)
		}

		if _, err := dst.Write(plaintext); err != nil {
			return total, err
		}
		total += int64(len(plaintext))
	}

	return total, nil
}

// IsEncrypted reports whether b starts with the stream header written by
// EncryptAESGCM.
func IsEncrypted(b []byte) bool {
	return len(b) >= len(magic) && [8]byte(b[:8]) == magic
}
