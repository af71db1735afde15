/*
	Copyright NetFoundry Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package xrpc

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/michaelquigley/pfxlog"
)

const DefaultCompressionLevel = brotli.DefaultCompression

// NewCompressionHandler brotli-compresses responses for clients that accept "br".
func NewCompressionHandler(handler http.Handler, level int) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Method == http.MethodHead || !acceptsBrotli(request.Header.Get("Accept-Encoding")) {
			handler.ServeHTTP(writer, request)
			return
		}

		compressing := &brotliResponseWriter{ResponseWriter: writer, level: level}
		defer compressing.close()

		handler.ServeHTTP(compressing, request)
	})
}

func acceptsBrotli(acceptEncoding string) bool {
	for _, part := range strings.Split(acceptEncoding, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(coding), "br") {
			continue
		}

		params = strings.TrimSpace(params)
		if q, found := strings.CutPrefix(params, "q="); found {
			if value, err := strconv.ParseFloat(q, 64); err == nil && value == 0 {
				return false
			}
		}
		return true
	}
	return false
}

type brotliResponseWriter struct {
	http.ResponseWriter
	level       int
	writer      *brotli.Writer
	wroteHeader bool
}

func (w *brotliResponseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	header := w.Header()
	header.Add("Vary", "Accept-Encoding")

	compressible := status != http.StatusNoContent && status != http.StatusNotModified && status >= http.StatusOK
	if compressible && header.Get("Content-Encoding") == "" {
		header.Set("Content-Encoding", "br")
		header.Del("Content-Length")
		w.writer = brotli.NewWriterLevel(w.ResponseWriter, w.level)
	}

	w.ResponseWriter.WriteHeader(status)
}

func (w *brotliResponseWriter) Write(data []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}

	if w.writer != nil {
		return w.writer.Write(data)
	}
	return w.ResponseWriter.Write(data)
}

func (w *brotliResponseWriter) Flush() {
	if w.writer != nil {
		if err := w.writer.Flush(); err != nil {
			pfxlog.Logger().WithError(err).Debug("unable to flush compressed response")
		}
	}

	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *brotliResponseWriter) close() {
	if w.writer != nil {
		if err := w.writer.Close(); err != nil {
			pfxlog.Logger().WithError(err).Debug("unable to finish compressed response")
		}
	}
}
