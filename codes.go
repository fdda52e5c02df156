package main

import (
	"crypto/rand"
)

// CodeGenerator produces candidate room codes. The GameManager retries until
// the candidate does not collide with a live room.
type CodeGenerator func() string

// Room codes avoid 0/O, 1/I/L and lowercase entirely, since players relay
// them out loud or type them from a QR-scanned phone screen.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

func newCodeGenerator(length int) CodeGenerator {
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, length)
		for i := range out {
			out[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
		}
		return string(out)
	}
}
