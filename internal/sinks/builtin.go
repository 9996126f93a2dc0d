package sinks

func intp(n int) *int { return &n }

// builtinCatalog 内置 sink 目录。
// 外部 JSON 目录缺省时使用，分组与 data/sink_catalog.json 保持一致
func builtinCatalog() []*Definition {
	return []*Definition{
		// === Environment Verification ===
		{
			Name:      "java.io.File.exists",
			MatchType: MatchFQN,
			Risk:      "Environment Verification",
			Layer:     LayerManaged,
			DualUse:   true,
			ContextHint: &ContextHint{
				SuspiciousArgs: []string{"/system/bin/su", "/system/xbin/su", "/sbin/su", "Superuser.apk", "magisk", "busybox"},
			},
		},
		{
			Name:      "java.lang.Runtime.exec",
			MatchType: MatchFQN,
			Risk:      "Root Detection",
			Layer:     LayerManaged,
		},
		{
			Name:      "java.lang.ProcessBuilder.start",
			MatchType: MatchFQN,
			Risk:      "Root Detection",
			Layer:     LayerManaged,
		},
		{
			Name:      `android\.os\.Build\.(FINGERPRINT|MODEL|DEVICE|HARDWARE|PRODUCT|BRAND)`,
			MatchType: MatchRegex,
			Risk:      "Emulator Detection",
			Layer:     LayerManaged,
		},
		{
			Name:      "android.os.SystemProperties.get",
			MatchType: MatchFQN,
			Risk:      "Emulator Detection",
			Layer:     LayerManaged,
		},
		{
			Name:      "android.telephony.TelephonyManager.getNetworkOperatorName",
			MatchType: MatchFQN,
			Risk:      "Emulator Detection",
			Layer:     LayerManaged,
		},
		{
			Name:      "android.hardware.SensorManager.getSensorList",
			MatchType: MatchFQN,
			Risk:      "Emulator Detection",
			Layer:     LayerManaged,
		},

		// === Anti-Debugging / Anti-Analysis ===
		{
			Name:      "android.os.Debug.isDebuggerConnected",
			MatchType: MatchFQN,
			Risk:      "Anti-Debugging",
			Layer:     LayerManaged,
		},
		{
			Name:      "android.os.Debug.waitForDebugger",
			MatchType: MatchFQN,
			Risk:      "Anti-Debugging",
			Layer:     LayerManaged,
		},
		{
			Name:      "java.lang.Thread.getStackTrace",
			MatchType: MatchFQN,
			Risk:      "Anti-Analysis",
			Layer:     LayerManaged,
			DualUse:   true,
			ContextHint: &ContextHint{
				SuspiciousArgs: []string{"frida", "xposed", "substrate"},
			},
		},
		{
			Name:      "android.content.pm.PackageManager.getPackageInfo",
			MatchType: MatchFQN,
			Risk:      "Anti-Analysis",
			Layer:     LayerManaged,
			DualUse:   true,
			ContextHint: &ContextHint{
				SuspiciousArgs: []string{"GET_SIGNATURES", "SIGNATURES", "64"},
			},
		},
		{
			Name:      "java.security.MessageDigest.getInstance",
			MatchType: MatchFQN,
			Risk:      "Anti-Analysis",
			Layer:     LayerManaged,
			DualUse:   true,
			ContextHint: &ContextHint{
				SuspiciousArgs: []string{"SHA", "SHA-1", "SHA-256", "MD5"},
			},
		},

		// === Secure Communication ===
		{
			Name:      "okhttp3.CertificatePinner",
			MatchType: MatchFQN,
			Risk:      "Secure Communication",
			Layer:     LayerManaged,
		},
		{
			Name:      "javax.net.ssl.X509TrustManager.checkServerTrusted",
			MatchType: MatchFQN,
			Risk:      "Secure Communication",
			Layer:     LayerManaged,
		},
		{
			Name:      `javax\.net\.ssl\.(SSLContext\.init|TrustManagerFactory)`,
			MatchType: MatchRegex,
			Risk:      "Secure Communication",
			Layer:     LayerManaged,
		},
		{
			Name:      "com.datatheorem.android.trustkit",
			MatchType: MatchPath,
			Risk:      "Secure Communication",
			Layer:     LayerManaged,
		},

		// === Native ===
		{
			Name:      "ptrace",
			MatchType: MatchNative,
			Risk:      "Anti-Debugging",
			Layer:     LayerNative,
			SyscallID: intp(26),
		},
		{
			Name:      "__system_property_get",
			MatchType: MatchNative,
			Risk:      "Emulator Detection",
			Layer:     LayerNative,
		},
		{
			Name:      "SSL_CTX_set_custom_verify",
			MatchType: MatchNative,
			Risk:      "Secure Communication",
			Layer:     LayerNative,
		},
		{
			Name:      "SSL_set_custom_verify",
			MatchType: MatchNative,
			Risk:      "Secure Communication",
			Layer:     LayerNative,
		},
	}
}

// builtinIndicators 内置指示器目录，结构与 data/indicators.json 一致
func builtinIndicators() *Indicators {
	return &Indicators{
		Root: RootIndicators{
			PackageChecks: []string{
				"com.noshufou.android.su",
				"com.thirdparty.superuser",
				"eu.chainfire.supersu",
				"com.koushikdutta.superuser",
				"com.topjohnwu.magisk",
			},
			ExecutionCommands: []string{
				"su",
				"which su",
				"id",
				"busybox",
			},
			FileExistenceChecks: []string{
				"/system/bin/su",
				"/system/xbin/su",
				"/sbin/su",
				"/system/app/Superuser.apk",
				"/system/bin/.ext/.su",
				"/data/local/xbin/su",
				"/data/local/bin/su",
				"/system/sd/xbin/su",
			},
		},
		Emulator: EmulatorIndicators{
			Telephony: []string{"Android"},
			HardwareStrings: []string{
				"goldfish",
				"ranchu",
				"vbox86",
				"ttVM_x86",
				"nox",
			},
			BuildProperties: BuildProperties{
				Fingerprint: []string{"generic", "test-keys"},
				Model:       []string{"google_sdk", "Emulator", "Android SDK built for x86"},
				Device:      []string{"generic", "generic_x86"},
			},
			Properties: []string{
				"ro.kernel.qemu",
				"ro.hardware.virtual_device",
				"qemu.sf.fake_camera",
			},
		},
		BenignExtensions: []string{".png", ".jpg", ".webp", ".xml", ".ttf"},
		UtilityIgnore: []string{
			"toHexString",
			"bytesToHex",
			"encodeBase64",
			"decodeBase64",
			"formatNumber",
		},
		AntiAnalysis: AntiAnalysis{
			AntiDebugging: []string{
				"isDebuggerConnected",
				"waitForDebugger",
				"FLAG_DEBUGGABLE",
				"TracerPid",
			},
			AntiInstrumentation: []string{
				"frida",
				"xposed",
				"substrate",
				"LD_PRELOAD",
				"gum-js-loop",
				"frida-agent",
			},
			SignatureVerification: []string{
				"getPackageInfo",
				"GET_SIGNATURES",
				"MessageDigest",
				"checkSignature",
			},
		},
	}
}
