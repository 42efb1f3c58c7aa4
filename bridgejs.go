package vex

// bridgeJS installs globalThis.__vex, the engine half of the value
// transport. It mirrors the envelope format in bridge.go: every node is
// {t, v}, objects are [key, node] pairs, byte payloads either stage
// through the binary channel or inline as base64. Encode failures throw
// Errors carrying a __vex: marker that the Go side rewrites into the
// public taxonomy.
const bridgeJS = `
(function() {
	var MAX_SAFE = 9007199254740991;
	var B64 = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';
	var B64REV = {};
	for (var bi = 0; bi < B64.length; bi++) B64REV[B64.charAt(bi)] = bi;

	function loneSurrogate(s) {
		for (var i = 0; i < s.length; i++) {
			var c = s.charCodeAt(i);
			if (c >= 0xD800 && c <= 0xDBFF) {
				var d = s.charCodeAt(i + 1);
				if (!(d >= 0xDC00 && d <= 0xDFFF)) return true;
				i++;
			} else if (c >= 0xDC00 && c <= 0xDFFF) {
				return true;
			}
		}
		return false;
	}

	function b64enc(u8) {
		var out = '';
		for (var i = 0; i < u8.length; i += 3) {
			var a = u8[i];
			var b = i + 1 < u8.length ? u8[i + 1] : 0;
			var c = i + 2 < u8.length ? u8[i + 2] : 0;
			out += B64.charAt(a >> 2) + B64.charAt(((a & 3) << 4) | (b >> 4));
			out += i + 1 < u8.length ? B64.charAt(((b & 15) << 2) | (c >> 6)) : '=';
			out += i + 2 < u8.length ? B64.charAt(c & 63) : '=';
		}
		return out;
	}

	function b64dec(s) {
		var end = s.length;
		while (end > 0 && s.charAt(end - 1) === '=') end--;
		var out = new Uint8Array(Math.floor(end * 3 / 4));
		var o = 0, buf = 0, bits = 0;
		for (var i = 0; i < end; i++) {
			buf = (buf << 6) | B64REV[s.charAt(i)];
			bits += 6;
			if (bits >= 8) {
				bits -= 8;
				out[o++] = (buf >> bits) & 255;
			}
		}
		return out;
	}

	function encNumber(v) {
		if (v !== v) return { t: 'double', v: 'NaN' };
		if (v === Infinity) return { t: 'double', v: 'Infinity' };
		if (v === -Infinity) return { t: 'double', v: '-Infinity' };
		if (v === 0 && 1 / v === -Infinity) return { t: 'double', v: '-0' };
		if (Number.isInteger(v) && v >= -MAX_SAFE && v <= MAX_SAFE) return { t: 'int', v: v };
		return { t: 'double', v: v };
	}

	function asBytes(v) {
		if (typeof ArrayBuffer === 'undefined') return null;
		if (v instanceof ArrayBuffer) return new Uint8Array(v.slice(0));
		if (ArrayBuffer.isView(v)) {
			return new Uint8Array(v.buffer.slice(v.byteOffset, v.byteOffset + v.byteLength));
		}
		return null;
	}

	function encTree(v, maxDepth, inlineBytes) {
		var seen = [];
		function walk(v, depth) {
			if (depth > maxDepth) throw new Error('__vex:depth');
			if (v === undefined) return { t: 'undefined' };
			if (v === null) return { t: 'null' };
			var t = typeof v;
			if (t === 'boolean') return { t: 'bool', v: v };
			if (t === 'number') return encNumber(v);
			if (t === 'string') {
				if (loneSurrogate(v)) throw new Error('__vex:surrogate');
				return { t: 'string', v: v };
			}
			if (t === 'function') {
				var id = vex.nextRef++;
				vex.refs[id] = v;
				return { t: 'fn', v: id };
			}
			if (t === 'bigint' || t === 'symbol') throw new Error('__vex:unsupported ' + t);
			if (v instanceof Date) return { t: 'date', v: v.getTime() };
			if (v instanceof Error) {
				return { t: 'err', v: {
					name: v.name ? String(v.name) : 'Error',
					message: v.message === undefined ? '' : String(v.message),
					stack: typeof v.stack === 'string' ? v.stack : ''
				} };
			}
			var bytes = asBytes(v);
			if (bytes) {
				if (!inlineBytes && vex.binaryRefs) {
					var bid = vex.nextBin++;
					vex.bins[bid] = bytes;
					return { t: 'bytes', v: { ref: bid } };
				}
				return { t: 'bytes', v: { b64: b64enc(bytes) } };
			}
			for (var i = 0; i < seen.length; i++) {
				if (seen[i] === v) throw new Error('__vex:cycle');
			}
			seen.push(v);
			var out;
			if (Array.isArray(v)) {
				out = { t: 'array', v: [] };
				for (var j = 0; j < v.length; j++) out.v.push(walk(v[j], depth + 1));
			} else {
				out = { t: 'object', v: [] };
				var keys = Object.keys(v);
				for (var k = 0; k < keys.length; k++) {
					var key = keys[k];
					if (loneSurrogate(key)) throw new Error('__vex:surrogate');
					out.v.push([key, walk(v[key], depth + 1)]);
				}
			}
			seen.pop();
			return out;
		}
		return walk(v, 0);
	}

	function decTree(e) {
		switch (e.t) {
		case 'undefined': return undefined;
		case 'null': return null;
		case 'bool': return e.v;
		case 'int': return e.v;
		case 'double': return typeof e.v === 'string' ? Number(e.v) : e.v;
		case 'string': return e.v;
		case 'date': return new Date(e.v);
		case 'fn':
			var fn = vex.refs[e.v];
			if (typeof fn !== 'function') throw new TypeError('function handle ' + e.v + ' is not registered');
			return fn;
		case 'err':
			var Ctor = typeof globalThis[e.v.name] === 'function' ? globalThis[e.v.name] : Error;
			var er = new Ctor(e.v.message);
			if (e.v.stack) er.stack = e.v.stack;
			return er;
		case 'bytes':
			if (e.v.b64 !== undefined) return b64dec(e.v.b64);
			var staged = globalThis[e.v.g];
			delete globalThis[e.v.g];
			return staged instanceof ArrayBuffer ? new Uint8Array(staged) : new Uint8Array(staged.buffer, staged.byteOffset || 0, staged.byteLength);
		case 'array':
			var arr = [];
			for (var i = 0; i < e.v.length; i++) arr.push(decTree(e.v[i]));
			return arr;
		case 'object':
			var obj = {};
			for (var j = 0; j < e.v.length; j++) obj[e.v[j][0]] = decTree(e.v[j][1]);
			return obj;
		}
		throw new TypeError('unknown transport tag ' + e.t);
	}

	var vex = {
		refs: {},
		nextRef: 1,
		bins: {},
		nextBin: 1,
		maxDepth: 100,
		binaryRefs: false,

		encode: function(v) {
			return JSON.stringify(encTree(v, vex.maxDepth, false));
		},
		encodeInline: function(v) {
			return JSON.stringify(encTree(v, vex.maxDepth, true));
		},
		decode: function(json) {
			return decTree(JSON.parse(json));
		},
		takeBin: function(id) {
			var u8 = vex.bins[id];
			delete vex.bins[id];
			globalThis.__vex_bin_out = u8.buffer;
		},
		call: function(target, argsJson) {
			var fn, self;
			if (target.ref !== undefined) {
				fn = vex.refs[target.ref];
				if (typeof fn !== 'function') throw new TypeError('function handle ' + target.ref + ' is not registered');
			} else {
				var parts = target.path.split('.');
				var cur = globalThis;
				for (var i = 0; i < parts.length; i++) {
					if (cur === undefined || cur === null) break;
					self = cur;
					cur = cur[parts[i]];
				}
				fn = cur;
				if (typeof fn !== 'function') throw new TypeError(target.path + ' is not a function');
			}
			var args = vex.decode(argsJson);
			return fn.apply(self, args);
		},
		makeHost: function(name) {
			return function() {
				var args = Array.prototype.slice.call(arguments);
				var payload = vex.encodeInline(args);
				return vex.decode(__vex_dispatch(name, payload));
			};
		},
		b64enc: b64enc,
		b64dec: b64dec
	};

	globalThis.__vex = vex;
})();
`
