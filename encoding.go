package vex

import (
	"fmt"

	"github.com/vexjs/vex/internal/core"
)

// setupEncoding installs the text encoding globals scripts expect:
// atob/btoa and UTF-8 TextEncoder/TextDecoder. All pure JavaScript, so
// binary strings never cross the boundary.
func setupEncoding(iso core.Isolate) error {
	if err := iso.Eval(base64JS); err != nil {
		return fmt.Errorf("evaluating base64 globals: %w", err)
	}
	if err := iso.Eval(textCodecJS); err != nil {
		return fmt.Errorf("evaluating text codec globals: %w", err)
	}
	return nil
}

// base64JS implements global atob() and btoa() per the Web API: btoa
// accepts Latin-1 strings only, atob tolerates whitespace and missing
// padding.
const base64JS = `
(function() {
	var _e = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';
	var _d = new Uint8Array(128);
	for (var i = 0; i < _e.length; i++) _d[_e.charCodeAt(i)] = i;
	var _v = new Uint8Array(128);
	for (var j = 0; j < _e.length; j++) _v[_e.charCodeAt(j)] = 1;

	globalThis.btoa = function(data) {
		if (arguments.length < 1) throw new TypeError('btoa requires at least 1 argument');
		var s = String(data);
		var len = s.length;
		if (len === 0) return '';
		var bytes = new Uint8Array(len);
		for (var i = 0; i < len; i++) {
			var ch = s.charCodeAt(i);
			if (ch > 255) throw new Error('btoa: string contains characters outside of the Latin1 range');
			bytes[i] = ch;
		}
		return __vex.b64enc(bytes);
	};

	globalThis.atob = function(data) {
		if (arguments.length < 1) throw new TypeError('atob requires at least 1 argument');
		var b64 = String(data).replace(/[\t\n\f\r ]/g, '');
		if (b64.length === 0) return '';
		if (b64.length % 4 === 0 && b64.charAt(b64.length - 1) === '=') {
			b64 = b64.slice(0, b64.charAt(b64.length - 2) === '=' ? -2 : -1);
		}
		if (b64.length % 4 === 1) throw new Error('atob: invalid base64 string');
		for (var i = 0; i < b64.length; i++) {
			var ch = b64.charCodeAt(i);
			if (ch >= 128 || !_v[ch]) throw new Error('atob: invalid base64 string');
		}
		var bytes = __vex.b64dec(b64);
		var CHUNK = 4096;
		var result = '';
		for (var o = 0; o < bytes.length; o += CHUNK) {
			var end = Math.min(o + CHUNK, bytes.length);
			result += String.fromCharCode.apply(null, bytes.subarray(o, end));
		}
		return result;
	};
})();
`

// textCodecJS implements UTF-8 TextEncoder and TextDecoder. Lone
// surrogates encode as U+FFFD; decoding honors the fatal option and
// strips a leading BOM.
const textCodecJS = `
(function() {
	function utf8Encode(str) {
		str = String(str);
		var buf = [];
		for (var i = 0; i < str.length; i++) {
			var c = str.charCodeAt(i);
			if (c >= 0xD800 && c <= 0xDBFF && i + 1 < str.length) {
				var next = str.charCodeAt(i + 1);
				if (next >= 0xDC00 && next <= 0xDFFF) {
					c = ((c - 0xD800) << 10) + (next - 0xDC00) + 0x10000;
					i++;
				} else {
					c = 0xFFFD;
				}
			} else if (c >= 0xD800 && c <= 0xDFFF) {
				c = 0xFFFD;
			}
			if (c < 0x80) {
				buf.push(c);
			} else if (c < 0x800) {
				buf.push(0xC0 | (c >> 6), 0x80 | (c & 0x3F));
			} else if (c < 0x10000) {
				buf.push(0xE0 | (c >> 12), 0x80 | ((c >> 6) & 0x3F), 0x80 | (c & 0x3F));
			} else {
				buf.push(0xF0 | (c >> 18), 0x80 | ((c >> 12) & 0x3F), 0x80 | ((c >> 6) & 0x3F), 0x80 | (c & 0x3F));
			}
		}
		return new Uint8Array(buf);
	}

	function TextEncoder() {}
	TextEncoder.prototype.encode = function(str) { return utf8Encode(str); };
	TextEncoder.prototype.encodeInto = function(source, destination) {
		var encoded = utf8Encode(source);
		var written = Math.min(encoded.length, destination.length);
		destination.set(encoded.subarray(0, written));
		return { read: String(source).length, written: written };
	};
	Object.defineProperty(TextEncoder.prototype, 'encoding', { get: function() { return 'utf-8'; } });

	function TextDecoder(label, options) {
		var enc = (label || 'utf-8').toLowerCase().trim();
		if (enc === 'utf8' || enc === 'unicode-1-1-utf-8') enc = 'utf-8';
		if (enc !== 'utf-8') throw new RangeError('unsupported encoding ' + enc);
		this._fatal = !!(options && options.fatal);
		this._ignoreBOM = !!(options && options.ignoreBOM);
	}
	Object.defineProperty(TextDecoder.prototype, 'encoding', { get: function() { return 'utf-8'; } });
	Object.defineProperty(TextDecoder.prototype, 'fatal', { get: function() { return this._fatal; } });
	Object.defineProperty(TextDecoder.prototype, 'ignoreBOM', { get: function() { return this._ignoreBOM; } });
	TextDecoder.prototype.decode = function(buf) {
		var bytes;
		if (!buf) {
			bytes = new Uint8Array(0);
		} else if (buf instanceof ArrayBuffer) {
			bytes = new Uint8Array(buf);
		} else if (ArrayBuffer.isView(buf)) {
			bytes = new Uint8Array(buf.buffer, buf.byteOffset, buf.byteLength);
		} else {
			bytes = new Uint8Array(buf);
		}
		var i = 0;
		if (!this._ignoreBOM && bytes.length >= 3 &&
			bytes[0] === 0xEF && bytes[1] === 0xBB && bytes[2] === 0xBF) {
			i = 3;
		}
		var out = '';
		var fatal = this._fatal;
		function bad() {
			if (fatal) throw new TypeError('invalid UTF-8 sequence');
			return '�';
		}
		while (i < bytes.length) {
			var b = bytes[i++];
			var cp, extra, min;
			if (b < 0x80) { out += String.fromCharCode(b); continue; }
			if (b >= 0xC2 && b <= 0xDF) { cp = b & 0x1F; extra = 1; min = 0x80; }
			else if (b >= 0xE0 && b <= 0xEF) { cp = b & 0x0F; extra = 2; min = 0x800; }
			else if (b >= 0xF0 && b <= 0xF4) { cp = b & 0x07; extra = 3; min = 0x10000; }
			else { out += bad(); continue; }
			var ok = true;
			for (var k = 0; k < extra; k++) {
				var nb = bytes[i];
				if (nb === undefined || (nb & 0xC0) !== 0x80) { ok = false; break; }
				cp = (cp << 6) | (nb & 0x3F);
				i++;
			}
			if (!ok || cp < min || cp > 0x10FFFF || (cp >= 0xD800 && cp <= 0xDFFF)) {
				out += bad();
				continue;
			}
			if (cp < 0x10000) {
				out += String.fromCharCode(cp);
			} else {
				cp -= 0x10000;
				out += String.fromCharCode(0xD800 + (cp >> 10), 0xDC00 + (cp & 0x3FF));
			}
		}
		return out;
	};

	globalThis.TextEncoder = TextEncoder;
	globalThis.TextDecoder = TextDecoder;
})();
`
